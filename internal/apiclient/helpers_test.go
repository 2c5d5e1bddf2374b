package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuerpobomberos/inventa/internal/secretstore"
	"github.com/cuerpobomberos/inventa/internal/session"
)

// memStore is an in-memory secretstore.Store.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok || v == "" {
		return "", secretstore.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *memStore) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// backend is a fake REST backend that accepts exactly one access token at a time.
type backend struct {
	mu          sync.Mutex
	validToken  string
	seenAuth    []string
	seenBodies  []string
	refreshBody []map[string]string

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	rejected     atomic.Int32

	// refresh handles POST auth/refresh/. Defaults to issuing "T2" without rotation.
	refresh func(w http.ResponseWriter, refreshToken string)
	// resource handles authorised requests. Defaults to 200 {"ok":true}.
	resource func(w http.ResponseWriter, r *http.Request)
	// login handles POST auth/login/. Defaults to 404.
	login func(w http.ResponseWriter, r *http.Request)
}

func newBackend(t *testing.T, validToken string) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{validToken: validToken}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/auth/refresh/":
		b.refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.refreshBody = append(b.refreshBody, body)
		b.mu.Unlock()
		if b.refresh != nil {
			b.refresh(w, body["refresh"])
			return
		}
		b.setValid("T2")
		writeTestJSON(w, http.StatusOK, map[string]string{"access": "T2"})
		return
	case "/api/v1/auth/login/":
		if b.login == nil {
			http.NotFound(w, r)
			return
		}
		b.login(w, r)
		return
	case "/api/v1/auth/logout/":
		b.logoutCalls.Add(1)
		w.WriteHeader(http.StatusOK)
		return
	}

	auth := r.Header.Get("Authorization")
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.seenAuth = append(b.seenAuth, auth)
	b.seenBodies = append(b.seenBodies, string(body))
	valid := b.validToken
	b.mu.Unlock()

	if auth != "Bearer "+valid {
		b.rejected.Add(1)
		writeTestJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token not valid"})
		return
	}
	if b.resource != nil {
		b.resource(w, r)
		return
	}
	writeTestJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (b *backend) setValid(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validToken = token
}

func (b *backend) auths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seenAuth...)
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newSignedInClient returns a client whose session holds access/refresh.
func newSignedInClient(t *testing.T, baseURL, access, refresh string, opts ...Option) (*Client, *memStore) {
	t.Helper()
	store := newMemStore()
	sess, err := session.New(store)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	if access != "" {
		if err := sess.SignIn(context.Background(), session.Credentials{AccessToken: access, RefreshToken: refresh}, session.Profile{}); err != nil {
			t.Fatalf("SignIn: %v", err)
		}
	}
	client, err := New(baseURL+"/api/v1", sess, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, store
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
