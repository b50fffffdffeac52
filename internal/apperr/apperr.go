// Package apperr defines the error kinds the domain services signal to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindStateConflict     Kind = "state_conflict"
	KindDuplicateResource Kind = "duplicate_resource"
)

// FieldError describes a problem with a single input field.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag,omitempty"`
	Error string `json:"error"`
}

// Error is a domain error. MsgID names the translatable message; Resource and ID
// identify the entity involved, when there is one.
type Error struct {
	Kind     Kind
	MsgID    string
	Resource string
	ID       any
	Fields   []FieldError
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.MsgID != "" {
		msg = e.MsgID
	}
	if e.Resource != "" {
		msg = fmt.Sprintf("%s: %s %v", msg, e.Resource, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// TemplateData is the data handed to message templates.
func (e *Error) TemplateData() map[string]any {
	return map[string]any{"Resource": e.Resource, "ID": e.ID}
}

// NotFound signals that resource with the given id does not exist.
func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, MsgID: "NotFound", Resource: resource, ID: id}
}

// Invalid signals an input outside the accepted domain.
func Invalid(msgID string, fields ...FieldError) *Error {
	return &Error{Kind: KindInvalidInput, MsgID: msgID, Fields: fields}
}

// Conflict signals an operation that violates a lifecycle invariant.
func Conflict(msgID string) *Error {
	return &Error{Kind: KindStateConflict, MsgID: msgID}
}

// Duplicate signals a uniqueness violation.
func Duplicate(msgID string) *Error {
	return &Error{Kind: KindDuplicateResource, MsgID: msgID}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Require returns v, or a NotFound error for resource/id when v is nil.
func Require[T any](v *T, resource string, id any) (*T, error) {
	if v == nil {
		return nil, NotFound(resource, id)
	}
	return v, nil
}
