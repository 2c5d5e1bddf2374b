package secretstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// EnvStore seeds secrets from environment variables and keeps writes in
// process memory. Values do not survive a restart, which suits containers and
// CI jobs that inject tokens from an external secret manager.
//
// A key "refresh_token" with prefix "INVENTA_SECRET_" maps to INVENTA_SECRET_REFRESH_TOKEN.
type EnvStore struct {
	prefix string

	mu        sync.RWMutex
	overrides map[string]string
	deleted   map[string]bool
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading variables with the given prefix.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix:    prefix,
		overrides: make(map[string]string),
		deleted:   make(map[string]bool),
	}, nil
}

// Get returns the in-memory value if one was written, otherwise the environment value.
func (e *EnvStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrInvalidKey
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.deleted[key] {
		return "", ErrNotFound
	}
	if value, ok := e.overrides[key]; ok {
		return value, nil
	}

	value := strings.TrimSpace(os.Getenv(e.envKey(key)))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set records the value for the lifetime of the process.
func (e *EnvStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.deleted, key)
	e.overrides[key] = value
	return nil
}

// Delete hides the key, including any environment seed, for the lifetime of the process.
func (e *EnvStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.overrides, key)
	e.deleted[key] = true
	return nil
}

func (e *EnvStore) envKey(key string) string {
	return e.prefix + strings.ToUpper(key)
}
