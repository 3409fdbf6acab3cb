// Package users records the identities that submit transactions.
//
// There is no authentication: POST /v1/auth upserts the caller-supplied
// profile and echoes it back so clients have a stable user_id to send with
// uploads and queries.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("users: not found")
	ErrInvalidUser = errors.New("users: invalid user")
)

// User is a known submitter.
type User struct {
	ID        string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists users.
type Store interface {
	// Upsert inserts u or updates the email and name of an existing user.
	// Empty fields in u leave the stored value unchanged.
	Upsert(ctx context.Context, u *User) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
}
