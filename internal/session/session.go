package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cuerpobomberos/inventa/internal/secretstore"
)

// Secret store keys.
const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyBiometric    = "biometric_enabled"
)

var (
	// ErrMissingAccessToken is returned when a transition would leave the session
	// authenticated without an access token.
	ErrMissingAccessToken = errors.New("missing access token")

	// ErrMissingRefreshToken is returned by SignIn when the backend did not issue a refresh token.
	ErrMissingRefreshToken = errors.New("missing refresh token")

	// ErrSessionChanged is returned by ReplaceTokens and Expire when the session
	// was signed in or cleared after the caller read its generation.
	ErrSessionChanged = errors.New("session changed")
)

// Credentials is the access/refresh token pair issued by the backend.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Session holds the authentication state of one client process.
// Transitions persist to the secret store before memory is updated.
type Session struct {
	store secretstore.Store

	mu            sync.RWMutex
	creds         *Credentials
	authenticated bool
	profile       Profile
	// generation is bumped by SignIn and Clear
	generation uint64

	// transitionMu serialises transitions so store writes never interleave
	transitionMu sync.Mutex
}

// New creates an unauthenticated Session backed by store.
// No I/O is performed until Restore or a transition is called.
func New(store secretstore.Store) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("missing secret store")
	}
	return &Session{store: store}, nil
}

// Store returns the secret store backing the session.
func (s *Session) Store() secretstore.Store {
	return s.store
}

// Authenticated reports whether the session currently holds a usable access token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Generation identifies the current sign-in. A refresh started under one
// generation must not install tokens into a later one.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Credentials returns a copy of the in-memory credentials.
func (s *Session) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Profile returns the profile received at sign-in or on the last refresh that carried one.
func (s *Session) Profile() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.clone()
}

// HasPermission reports whether the signed-in user holds the named permission.
func (s *Session) HasPermission(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated && slices.Contains(s.profile.Permissions, name)
}

// Claims decodes the current access token. Returns false for opaque tokens.
func (s *Session) Claims() (*Claims, bool) {
	creds, ok := s.Credentials()
	if !ok {
		return nil, false
	}
	return ParseClaims(creds.AccessToken)
}

// AccessToken returns the in-memory access token, falling back to the secret
// store for the window between process start and Restore. Returns "" when
// neither holds one; store errors are logged and treated as absent.
func (s *Session) AccessToken(ctx context.Context) string {
	s.mu.RLock()
	var token string
	if s.creds != nil {
		token = s.creds.AccessToken
	}
	s.mu.RUnlock()
	if token != "" {
		return token
	}

	token, err := s.store.Get(ctx, KeyAccessToken)
	if err != nil {
		if !errors.Is(err, secretstore.ErrNotFound) {
			slog.WarnContext(ctx, "failed to read access token from secret store", "error", err)
		}
		return ""
	}
	return token
}

// RefreshToken returns the in-memory refresh token, falling back to the secret store.
// Returns secretstore.ErrNotFound when neither holds one.
func (s *Session) RefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	var token string
	if s.creds != nil {
		token = s.creds.RefreshToken
	}
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	slog.DebugContext(ctx, "refresh token not in memory, reading secret store")
	return s.store.Get(ctx, KeyRefreshToken)
}

// SignIn persists both tokens and replaces the in-memory session.
func (s *Session) SignIn(ctx context.Context, creds Credentials, profile Profile) error {
	if creds.AccessToken == "" {
		return ErrMissingAccessToken
	}
	if creds.RefreshToken == "" {
		return ErrMissingRefreshToken
	}

	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	if err := s.persist(ctx, creds.AccessToken, creds.RefreshToken); err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}

	s.mu.Lock()
	s.creds = &Credentials{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
	s.authenticated = true
	s.profile = profile.clone()
	s.generation++
	s.mu.Unlock()

	slog.DebugContext(ctx, "session signed in", "permissions", len(profile.Permissions))
	return nil
}

// ReplaceTokens installs a freshly issued access token. An empty refreshToken
// keeps the current one (backends without rotation). A nil profile keeps the
// current profile. It returns ErrSessionChanged without touching memory or
// the store when generation is no longer current.
func (s *Session) ReplaceTokens(ctx context.Context, generation uint64, accessToken, refreshToken string, profile *Profile) error {
	if accessToken == "" {
		return ErrMissingAccessToken
	}

	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	if s.Generation() != generation {
		return ErrSessionChanged
	}

	retained := refreshToken
	if retained == "" {
		s.mu.RLock()
		if s.creds != nil {
			retained = s.creds.RefreshToken
		}
		s.mu.RUnlock()
	}
	if retained == "" {
		// Refreshed before Restore: the token only lives in the store
		stored, err := s.store.Get(ctx, KeyRefreshToken)
		if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
			slog.WarnContext(ctx, "failed to read refresh token from secret store", "error", err)
		}
		retained = stored
	}

	if err := s.persist(ctx, accessToken, refreshToken); err != nil {
		return fmt.Errorf("persisting rotated tokens: %w", err)
	}

	s.mu.Lock()
	s.creds = &Credentials{AccessToken: accessToken, RefreshToken: retained}
	s.authenticated = true
	if profile != nil {
		s.profile = profile.clone()
	}
	s.mu.Unlock()

	slog.DebugContext(ctx, "session tokens replaced", "rotated_refresh", refreshToken != "")
	return nil
}

// Clear deletes both persisted tokens and resets the session to unauthenticated.
// Memory is reset even when the store fails. Clearing an empty session is a no-op.
func (s *Session) Clear(ctx context.Context) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.clear(ctx)
}

// Expire clears the session only if generation is still current, so a failed
// refresh cannot sign out a session established after it started.
func (s *Session) Expire(ctx context.Context, generation uint64) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	if s.Generation() != generation {
		return ErrSessionChanged
	}
	return s.clear(ctx)
}

func (s *Session) clear(ctx context.Context) error {
	// Refresh token first: it is the longer-lived credential
	var errs []error
	if err := s.store.Delete(ctx, KeyRefreshToken); err != nil {
		errs = append(errs, fmt.Errorf("deleting refresh token: %w", err))
	}
	if err := s.store.Delete(ctx, KeyAccessToken); err != nil {
		errs = append(errs, fmt.Errorf("deleting access token: %w", err))
	}

	s.mu.Lock()
	wasAuthenticated := s.authenticated
	s.creds = nil
	s.authenticated = false
	s.profile = Profile{}
	s.generation++
	s.mu.Unlock()

	if wasAuthenticated {
		slog.DebugContext(ctx, "session cleared")
	}
	return errors.Join(errs...)
}

// Restore loads persisted tokens. With both tokens present the session is
// optimistically marked authenticated; an expired access token is healed by
// the client's refresh path on first use. Returns whether the session is authenticated.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	access, err := s.store.Get(ctx, KeyAccessToken)
	if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
		return false, fmt.Errorf("reading access token: %w", err)
	}
	refresh, rerr := s.store.Get(ctx, KeyRefreshToken)
	if rerr != nil && !errors.Is(rerr, secretstore.ErrNotFound) {
		return false, fmt.Errorf("reading refresh token: %w", rerr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if access == "" || refresh == "" {
		s.creds = nil
		s.authenticated = false
		s.profile = Profile{}
		slog.DebugContext(ctx, "no stored session to restore")
		return false, nil
	}

	s.creds = &Credentials{AccessToken: access, RefreshToken: refresh}
	s.authenticated = true
	slog.DebugContext(ctx, "session restored from secret store")
	return true, nil
}

// BiometricEnabled reports the persisted biometric-unlock preference.
func (s *Session) BiometricEnabled(ctx context.Context) (bool, error) {
	v, err := s.store.Get(ctx, KeyBiometric)
	if errors.Is(err, secretstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetBiometricEnabled persists the biometric-unlock preference. It survives sign-out.
func (s *Session) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		return s.store.Delete(ctx, KeyBiometric)
	}
	return s.store.Set(ctx, KeyBiometric, "true")
}

// persist writes the refresh token before the access token. An interrupted
// write then leaves a valid refresh token with a stale access token, which the
// refresh path recovers from.
func (s *Session) persist(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken != "" {
		if err := s.store.Set(ctx, KeyRefreshToken, refreshToken); err != nil {
			return err
		}
	}
	return s.store.Set(ctx, KeyAccessToken, accessToken)
}
