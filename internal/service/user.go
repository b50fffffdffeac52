// Package service holds the business rules of exams, predictions, users and
// classes on top of the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/pruefungstipp/internal/apperr"
	"github.com/pavelanni/pruefungstipp/internal/model"
	"github.com/pavelanni/pruefungstipp/internal/store"
	"github.com/pavelanni/pruefungstipp/internal/validate"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password. The two cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService manages accounts.
type UserService struct {
	store    *store.Store
	validate *validate.Validator
	policy   model.Policy
	hashCost int
}

// NewUserService creates a UserService.
func NewUserService(s *store.Store, v *validate.Validator, p model.Policy) *UserService {
	return &UserService{store: s, validate: v, policy: p, hashCost: bcrypt.DefaultCost}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Create registers a new user. The role defaults to STUDENT.
func (s *UserService) Create(ctx context.Context, in model.UserInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if s.policy.StrictValidation {
		if err := s.validate.Struct(in); err != nil {
			return nil, err
		}
	} else if err := requireFields(
		"username", in.Username,
		"email", in.Email,
		"password", in.Password,
	); err != nil {
		return nil, err
	}

	role := model.UserRoleStudent
	if in.Role != "" {
		r, ok := model.ParseUserRole(in.Role)
		if !ok {
			return nil, apperr.Invalid("InvalidRole", apperr.FieldError{Field: "role", Tag: "oneof"})
		}
		role = r
	}

	hash, err := HashPassword(in.Password, s.hashCost)
	if err != nil {
		return nil, err
	}
	u := model.User{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: role}

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if err := checkUnique(ctx, q, 0, u.Username, u.Email); err != nil {
			return err
		}
		id, err := q.CreateUser(ctx, u)
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.Duplicate("UserExists")
		}
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		u.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return apperr.Require(u, "User", id)
}

// GetByEmail returns a user by email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Invalid("EmailRequired", apperr.FieldError{Field: "email", Tag: "required"})
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return apperr.Require(u, "User", email)
}

// List returns every user.
func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update changes username, email and optionally the password. The role is
// never changed here.
func (s *UserService) Update(ctx context.Context, id int64, in model.UserUpdate) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if s.policy.StrictValidation {
		if err := s.validate.Struct(in); err != nil {
			return nil, err
		}
	}

	var hash string
	if in.Password != "" {
		var err error
		if hash, err = HashPassword(in.Password, s.hashCost); err != nil {
			return nil, err
		}
	}

	var updated *model.User
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		u, err := q.GetUserByID(ctx, id)
		if err != nil {
			return fmt.Errorf("get user %d: %w", id, err)
		}
		if _, err := apperr.Require(u, "User", id); err != nil {
			return err
		}
		if s.policy.StrictValidation {
			if err := checkUnique(ctx, q, id, in.Username, in.Email); err != nil {
				return err
			}
		}
		u.Username = in.Username
		u.Email = in.Email
		if hash != "" {
			u.PasswordHash = hash
		}
		err = q.UpdateUser(ctx, *u)
		if errors.Is(err, store.ErrDuplicate) {
			return apperr.Duplicate("UserExists")
		}
		if err != nil {
			return fmt.Errorf("update user %d: %w", id, err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("updated user", "id", id, "username", updated.Username)
	return updated, nil
}

// Delete removes a user along with their predictions and grades.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if !ok {
		return apperr.NotFound("User", id)
	}
	slog.Info("deleted user", "id", id)
	return nil
}

// Authenticate checks an email and password pair.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.Debug("password mismatch", "email", email)
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// checkUnique fails when another user than self already holds username or email.
func checkUnique(ctx context.Context, q *store.Queries, self int64, username, email string) error {
	byEmail, err := q.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user by email: %w", err)
	}
	if byEmail != nil && byEmail.ID != self {
		return apperr.Duplicate("EmailTaken")
	}
	byName, err := q.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("get user by username: %w", err)
	}
	if byName != nil && byName.ID != self {
		return apperr.Duplicate("UsernameTaken")
	}
	return nil
}

// requireFields takes alternating field names and values and reports every
// empty value in argument order.
func requireFields(pairs ...string) error {
	var fields []apperr.FieldError
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			fields = append(fields, apperr.FieldError{Field: pairs[i], Tag: "required", Error: "this field is required"})
		}
	}
	if len(fields) > 0 {
		return apperr.Invalid("ValidationFailed", fields...)
	}
	return nil
}
