package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskintake/internal/testutil"
)

func TestPostgresStore_Upsert(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)

	created, err := s.Upsert(ctx, &User{ID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Empty(t, created.Name)

	updated, err := s.Upsert(ctx, &User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", updated.Email)
	assert.Equal(t, "Alice", updated.Name)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	_, err = s.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}
