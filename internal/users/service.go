package users

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mbd888/riskintake/internal/validation"
)

// maxEmailLength matches the users.email column.
const maxEmailLength = 320

// AuthRequest is the body of POST /v1/auth.
type AuthRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Service validates and records users.
type Service struct {
	store Store
}

// NewService creates a new user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Authenticate upserts the caller's profile and returns the stored user.
// No credentials are checked.
func (s *Service) Authenticate(ctx context.Context, req AuthRequest) (*User, error) {
	u := &User{
		ID:    strings.TrimSpace(req.UserID),
		Email: strings.TrimSpace(req.Email),
		Name:  validation.SanitizeString(strings.TrimSpace(req.Name), validation.MaxStringLength),
	}
	errs := validation.Validate(
		validation.Required("user_id", u.ID),
		validation.ValidUserID("user_id", u.ID),
		validation.MaxLength("email", u.Email, maxEmailLength),
		validEmail("email", u.Email),
	)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUser, errs.Error())
	}

	stored, err := s.store.Upsert(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return stored, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

func validEmail(field, value string) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if value == "" {
			return nil
		}
		if addr, err := mail.ParseAddress(value); err != nil || addr.Address != value {
			return &validation.ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}
