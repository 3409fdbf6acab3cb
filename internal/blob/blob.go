// Package blob stores uploaded files until a job consumes them.
//
// A locator is an opaque key returned by Put. Callers persist it in a job
// payload and hand it back to Get and Delete; they never build paths.
package blob

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mbd888/riskintake/internal/idgen"
)

var (
	ErrNotFound       = errors.New("blob: not found")
	ErrInvalidLocator = errors.New("blob: invalid locator")
)

// Store persists uploaded content.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

var (
	extRe     = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
	locatorRe = regexp.MustCompile(`^[0-9a-f-]{36}(\.[a-z0-9]{1,8})?$`)
)

// newLocator derives a unique locator from the original file name, keeping
// only a short alphanumeric extension.
func newLocator(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !extRe.MatchString(ext) {
		ext = ""
	}
	return idgen.Random() + ext
}

func validLocator(locator string) bool {
	return locatorRe.MatchString(locator)
}
