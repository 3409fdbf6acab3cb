package users

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Upsert(ctx context.Context, u *User) (*User, error) {
	out := &User{}
	var email, name sql.NullString
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, users.email),
			name = COALESCE(EXCLUDED.name, users.name),
			updated_at = NOW()
		RETURNING id, email, name, created_at, updated_at`,
		u.ID, u.Email, u.Name,
	).Scan(&out.ID, &email, &name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	out.Email = email.String
	out.Name = name.String
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	out := &User{}
	var email, name sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&out.ID, &email, &name, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.Email = email.String
	out.Name = name.String
	return out, nil
}
