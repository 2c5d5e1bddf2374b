package secretstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("secret not found")

	// ErrInvalidKey is returned for keys that cannot be stored by a backend.
	ErrInvalidKey = errors.New("invalid secret key")
)

// Store reads and writes named secrets to persistent storage.
type Store interface {
	// Get returns the stored value. Returns ErrNotFound if the key is missing or empty.
	Get(ctx context.Context, key string) (string, error)

	// Set persists the value, overwriting any existing one.
	Set(ctx context.Context, key, value string) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
