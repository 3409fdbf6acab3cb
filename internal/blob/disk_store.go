package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskStore keeps blobs as files in a single directory.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("blob: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) Put(_ context.Context, name string, data []byte) (string, error) {
	locator := newLocator(name)
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, locator)); err != nil {
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return locator, nil
}

func (s *DiskStore) Get(_ context.Context, locator string) ([]byte, error) {
	if !validLocator(locator) {
		return nil, ErrInvalidLocator
	}
	data, err := os.ReadFile(filepath.Join(s.dir, locator)) // #nosec G304 -- locator validated above
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return data, nil
}

func (s *DiskStore) Delete(_ context.Context, locator string) error {
	if !validLocator(locator) {
		return ErrInvalidLocator
	}
	err := os.Remove(filepath.Join(s.dir, locator))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
