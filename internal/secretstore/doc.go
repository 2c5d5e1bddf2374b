// Package secretstore provides durable key/value storage for session secrets.
//
// Supports three backends with different security and deployment tradeoffs:
//   - File: one file per key in a private directory, atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - Env: values seeded from environment variables, writes kept in process memory only
//
// All backends report a missing key as ErrNotFound and treat deleting a missing
// key as a no-op, so callers can clear state idempotently.
package secretstore
