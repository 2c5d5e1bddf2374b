package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

// storeFactories builds one instance of every backend for contract tests.
func storeFactories(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "secrets"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	keyring.MockInit()
	keyringStore, err := NewKeyringStore("inventa-test")
	if err != nil {
		t.Fatalf("NewKeyringStore: %v", err)
	}

	envStore, err := NewEnvStore("INVENTA_TEST_SECRET_")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}

	return map[string]Store{
		"file":    fileStore,
		"keyring": keyringStore,
		"env":     envStore,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "refresh_token"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store: got %v, want ErrNotFound", err)
			}

			if err := store.Set(ctx, "refresh_token", "r1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := store.Get(ctx, "refresh_token")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != "r1" {
				t.Errorf("Get = %q, want %q", got, "r1")
			}

			if err := store.Set(ctx, "refresh_token", "r2"); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			if got, _ := store.Get(ctx, "refresh_token"); got != "r2" {
				t.Errorf("Get after overwrite = %q, want %q", got, "r2")
			}

			if err := store.Delete(ctx, "refresh_token"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Get(ctx, "refresh_token"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete: got %v, want ErrNotFound", err)
			}

			// Second delete must be a no-op
			if err := store.Delete(ctx, "refresh_token"); err != nil {
				t.Errorf("Delete of missing key: %v", err)
			}
		})
	}
}

func TestStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "auth_token"); !errors.Is(err, context.Canceled) {
				t.Errorf("Get: got %v, want context.Canceled", err)
			}
			if err := store.Set(ctx, "auth_token", "a"); !errors.Is(err, context.Canceled) {
				t.Errorf("Set: got %v, want context.Canceled", err)
			}
			if err := store.Delete(ctx, "auth_token"); !errors.Is(err, context.Canceled) {
				t.Errorf("Delete: got %v, want context.Canceled", err)
			}
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Set(ctx, "auth_token", "a1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "auth_token"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %04o, want 0600", info.Mode().Perm())
	}

	if err := os.Chmod(filepath.Join(dir, "auth_token"), 0644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if _, err := store.Get(ctx, "auth_token"); err == nil {
		t.Error("Get should reject world-readable secret file")
	}
}

func TestFileStoreNoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, "auth_token", v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "auth_token" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want [auth_token]", names)
	}
}

func TestFileStoreRejectsInvalidKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	for _, key := range []string{"", "../escape", "nested/key", ".hidden", "x.tmp"} {
		t.Run(key, func(t *testing.T) {
			if err := store.Set(context.Background(), key, "v"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Set(%q): got %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestEnvStoreSeedAndOverride(t *testing.T) {
	ctx := context.Background()
	t.Setenv("INVENTA_SEED_REFRESH_TOKEN", " seeded ")

	store, err := NewEnvStore("INVENTA_SEED_")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}

	got, err := store.Get(ctx, "refresh_token")
	if err != nil {
		t.Fatalf("Get seeded: %v", err)
	}
	if got != "seeded" {
		t.Errorf("Get = %q, want %q", got, "seeded")
	}

	if err := store.Set(ctx, "refresh_token", "rotated"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := store.Get(ctx, "refresh_token"); got != "rotated" {
		t.Errorf("Get after Set = %q, want %q", got, "rotated")
	}

	// Delete must hide the environment seed too
	if err := store.Delete(ctx, "refresh_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "refresh_token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got %v, want ErrNotFound", err)
	}
}

func TestConstructorsRejectEmptyArguments(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") should fail")
	}
	if _, err := NewKeyringStore(""); err == nil {
		t.Error("NewKeyringStore(\"\") should fail")
	}
	if _, err := NewEnvStore(""); err == nil {
		t.Error("NewEnvStore(\"\") should fail")
	}
}
