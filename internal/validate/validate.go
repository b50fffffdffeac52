// Package validate checks request payloads against their struct tags.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
)

const (
	requiredTag  = "required"
	requiredText = "this field is required"
	gradeTag     = "grade"
	gradeText    = "{0} must be between 1.0 and 6.0"
)

// Validator wraps a validator instance with English messages.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New returns a Validator that names fields by their JSON tag.
func New() (*Validator, error) {
	english := en.New()
	uni := ut.New(english, english)
	translator, found := uni.GetTranslator("en")
	if !found {
		return nil, errors.New("validate: english translator not registered")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := en_translations.RegisterDefaultTranslations(v, translator); err != nil {
		return nil, fmt.Errorf("validate: register default translations: %w", err)
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation(gradeTag, func(fl validator.FieldLevel) bool {
		g := fl.Field().Float()
		return g >= 1.0 && g <= 6.0
	}); err != nil {
		return nil, fmt.Errorf("validate: register %s: %w", gradeTag, err)
	}
	if err := registerTranslation(v, translator, gradeTag, gradeText, false); err != nil {
		return nil, err
	}
	if err := registerTranslation(v, translator, requiredTag, requiredText, true); err != nil {
		return nil, err
	}

	return &Validator{validate: v, translator: translator}, nil
}

// MustNew is like New but panics on setup failure.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func registerTranslation(v *validator.Validate, translator ut.Translator, tag, text string, override bool) error {
	err := v.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
	if err != nil {
		return fmt.Errorf("validate: register %s translation: %w", tag, err)
	}
	return nil
}

// Struct validates s. Violations come back as an InvalidInput error listing
// each offending field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Error: fe.Translate(v.translator),
		})
	}
	return apperr.Invalid("ValidationFailed", fields...)
}

// Var validates a single value against a tag string such as "grade".
func (v *Validator) Var(field string, value any, tag string) *apperr.FieldError {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		msg := strings.TrimSpace(strings.Replace(verrs[0].Translate(v.translator), verrs[0].Field(), field, 1))
		return &apperr.FieldError{Field: field, Tag: verrs[0].Tag(), Error: msg}
	}
	return &apperr.FieldError{Field: field, Error: err.Error()}
}
