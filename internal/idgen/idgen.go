// Package idgen provides record ID generation.
package idgen

import (
	"github.com/google/uuid"
)

// New generates a time-ordered UUIDv7 string.
// Format: xxxxxxxx-xxxx-7xxx-xxxx-xxxxxxxxxxxx
//
// IDs created in the same millisecond are still unique but only roughly
// ordered, so stores must not rely on ID order alone.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Random generates a random UUIDv4 string. Used where IDs must not leak
// creation time, such as blob locators.
func Random() string {
	return uuid.NewString()
}
