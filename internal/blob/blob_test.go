package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   disk,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			loc, err := s.Put(ctx, "Statement March.CSV", []byte("a,b\n1,2\n"))
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(loc, ".csv"))

			data, err := s.Get(ctx, loc)
			require.NoError(t, err)
			assert.Equal(t, "a,b\n1,2\n", string(data))

			require.NoError(t, s.Delete(ctx, loc))
			_, err = s.Get(ctx, loc)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, loc), ErrNotFound)
		})
	}
}

func TestStore_UniqueLocators(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.Put(ctx, "same.csv", []byte("1"))
			require.NoError(t, err)
			b, err := s.Put(ctx, "same.csv", []byte("2"))
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
		})
	}
}

func TestNewLocator_DropsOddExtensions(t *testing.T) {
	assert.False(t, strings.Contains(newLocator("../../etc/passwd"), "/"))
	assert.Len(t, newLocator("noext"), 36)
	assert.Len(t, newLocator("x.c$v"), 36)
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o600))

	_, err = s.Get(context.Background(), "../secret.txt")
	assert.ErrorIs(t, err, ErrInvalidLocator)
	assert.ErrorIs(t, s.Delete(context.Background(), "../secret.txt"), ErrInvalidLocator)
}

func TestDiskStore_NoTempFilesLeft(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	loc, err := s.Put(context.Background(), "a.csv", []byte("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, loc, entries[0].Name())
}

func TestNewDiskStore_RequiresDir(t *testing.T) {
	_, err := NewDiskStore("")
	assert.Error(t, err)
}
