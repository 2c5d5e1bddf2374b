package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuerpobomberos/inventa/internal/session"
)

// DefaultTimeout bounds every individual network call.
const DefaultTimeout = 15 * time.Second

// Endpoints are backend paths relative to the base URL.
type Endpoints struct {
	Login   string
	Refresh string
	Logout  string
	Me      string
	// PasswordReset requests a reset e-mail. Anonymous like Login.
	PasswordReset string
}

// DefaultEndpoints matches the backend's auth routes.
var DefaultEndpoints = Endpoints{
	Login:         "auth/login/",
	Refresh:       "auth/refresh/",
	Logout:        "auth/logout/",
	Me:            "auth/me/",
	PasswordReset: "auth/password_reset/",
}

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration for New.
type clientConfig struct {
	baseTransport      http.RoundTripper
	timeout            time.Duration
	endpoints          Endpoints
	refreshOnForbidden bool
	onSessionExpired   func(context.Context, error)
	metrics            *Metrics
}

// WithTransport sets the base transport for all network calls.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout sets the per-call timeout. Zero or negative disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithEndpoints overrides the auth endpoint paths. Empty fields keep their defaults.
func WithEndpoints(endpoints Endpoints) Option {
	return func(c *clientConfig) {
		if endpoints.Login != "" {
			c.endpoints.Login = endpoints.Login
		}
		if endpoints.Refresh != "" {
			c.endpoints.Refresh = endpoints.Refresh
		}
		if endpoints.Logout != "" {
			c.endpoints.Logout = endpoints.Logout
		}
		if endpoints.Me != "" {
			c.endpoints.Me = endpoints.Me
		}
		if endpoints.PasswordReset != "" {
			c.endpoints.PasswordReset = endpoints.PasswordReset
		}
	}
}

// WithRefreshOnForbidden treats 403 like 401 for backends that report expired
// tokens as forbidden. Off by default: a genuine permission error would
// otherwise trigger a refresh.
func WithRefreshOnForbidden(enabled bool) Option {
	return func(c *clientConfig) {
		c.refreshOnForbidden = enabled
	}
}

// WithSessionExpiredHandler registers fn to run after a terminal
// authentication failure has cleared the session. fn runs on the goroutine
// that observed the failure and must not block for long.
func WithSessionExpiredHandler(fn func(ctx context.Context, err error)) Option {
	return func(c *clientConfig) {
		c.onSessionExpired = fn
	}
}

// WithMetrics records pipeline outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// Client talks to the backend on behalf of one Session.
type Client struct {
	baseURL   *url.URL
	endpoints Endpoints
	session   *session.Session

	transport   *Transport
	coordinator *coordinator
	httpClient  *http.Client
	// raw bypasses the pipeline; used for refresh and logout
	raw *http.Client

	background sync.WaitGroup
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, sess *session.Session, opts ...Option) (*Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("missing session")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	cfg := &clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		endpoints:     DefaultEndpoints,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		baseURL:   base,
		endpoints: cfg.endpoints,
		session:   sess,
		raw: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
	}

	r := &refresher{client: c.raw, url: c.resolve(cfg.endpoints.Refresh).String()}
	c.coordinator = &coordinator{
		session:   sess,
		refresh:   r.refresh,
		onExpired: cfg.onSessionExpired,
		metrics:   cfg.metrics,
	}

	loginPath := c.resolve(cfg.endpoints.Login).Path
	refreshPath := c.resolve(cfg.endpoints.Refresh).Path
	logoutPath := c.resolve(cfg.endpoints.Logout).Path
	resetPath := c.resolve(cfg.endpoints.PasswordReset).Path

	c.transport = &Transport{
		base:               cfg.baseTransport,
		session:            sess,
		coordinator:        c.coordinator,
		timeout:            cfg.timeout,
		refreshOnForbidden: cfg.refreshOnForbidden,
		metrics:            cfg.metrics,
		exemptPaths:        []string{loginPath, refreshPath, logoutPath, resetPath},
		anonymousPaths:     []string{loginPath, refreshPath, resetPath},
	}
	c.httpClient = &http.Client{Transport: c.transport}

	return c, nil
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session {
	return c.session
}

// Transport returns the authenticated pipeline for use by other HTTP clients or proxies.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// BaseURL returns a copy of the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// NewRequest builds a request for path relative to the base URL. A non-nil
// body is encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req through the authenticated pipeline. Like http.Client.Do, non-2xx
// responses are returned without error. Pipeline failures are returned as
// *ConnectivityError or *AuthError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unwrapURLError(err)
	}
	return resp, nil
}

// GetJSON performs an authenticated GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs an authenticated POST of in and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, in, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: snippet}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// SignIn exchanges username and password for tokens and starts a session.
func (c *Client) SignIn(ctx context.Context, username, password string) error {
	req, err := c.NewRequest(ctx, http.MethodPost, c.endpoints.Login, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: snippet}
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	tokens, err := decodeTokenResponse(fields)
	if err != nil {
		return fmt.Errorf("login response: %w", err)
	}

	profile := session.Profile{}
	if tokens.Profile != nil {
		profile = *tokens.Profile
	}
	if err := c.session.SignIn(ctx, session.Credentials{AccessToken: tokens.Access, RefreshToken: tokens.Refresh}, profile); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	slog.InfoContext(ctx, "signed in", "permissions", len(profile.Permissions))
	return nil
}

// SignOut notifies the backend without waiting for it and clears the local
// session unconditionally. Calling it on a signed-out client is a no-op.
// Use Close to wait for pending notifications before exiting.
func (c *Client) SignOut(ctx context.Context) error {
	creds, ok := c.session.Credentials()
	if !ok {
		// Tokens may still be on disk if Restore was never called
		creds.RefreshToken, _ = c.session.RefreshToken(ctx)
		creds.AccessToken = c.session.AccessToken(ctx)
	}

	if creds.RefreshToken != "" {
		c.notifyLogout(ctx, creds)
	}

	if err := c.session.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// notifyLogout tells the backend to revoke the refresh token. Best effort:
// it runs in the background and every error is discarded.
func (c *Client) notifyLogout(ctx context.Context, creds session.Credentials) {
	endpoint := c.resolve(c.endpoints.Logout).String()
	ctx = context.WithoutCancel(ctx)

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		if _, err := postJSON(ctx, c.raw, endpoint, map[string]string{"refresh": creds.RefreshToken}, creds.AccessToken); err != nil {
			slog.DebugContext(ctx, "logout notification failed, ignoring", "error", err)
		}
	}()
}

// Close waits for background notifications to finish or ctx to expire.
func (c *Client) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPasswordReset asks the backend to e-mail a reset link. It never
// carries a credential and never triggers a refresh.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	return c.PostJSON(ctx, c.endpoints.PasswordReset, map[string]string{"email": email}, nil)
}

// Me fetches the signed-in user's profile through the pipeline, refreshing an
// expired access token if needed.
func (c *Client) Me(ctx context.Context) (map[string]json.RawMessage, error) {
	var profile map[string]json.RawMessage
	if err := c.GetJSON(ctx, c.endpoints.Me, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Refresh forces a coordinated token refresh and returns the new access
// token. It joins an in-flight refresh instead of starting a second one.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	stale := c.session.AccessToken(ctx)
	return c.coordinator.acquire(ctx, stale)
}

// Unlock restores a persisted session and exchanges the refresh token for a
// fresh pair when biometric unlock is enabled. Returns false when it is disabled.
func (c *Client) Unlock(ctx context.Context) (bool, error) {
	enabled, err := c.session.BiometricEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("reading biometric preference: %w", err)
	}
	if !enabled {
		return false, nil
	}

	if _, err := c.session.Restore(ctx); err != nil {
		return false, fmt.Errorf("restoring session: %w", err)
	}
	if _, err := c.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// resolve maps a path relative to the base URL. Leading slashes are ignored so
// every path stays under the base path.
func (c *Client) resolve(path string) *url.URL {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		ref = &url.URL{Path: strings.TrimLeft(path, "/")}
	}
	return c.baseURL.ResolveReference(ref)
}

// unwrapURLError strips the *url.Error wrapper http.Client adds around
// pipeline errors so callers see *AuthError and *ConnectivityError directly.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	var authErr *AuthError
	var connErr *ConnectivityError
	if errors.As(urlErr.Err, &authErr) || errors.As(urlErr.Err, &connErr) {
		return urlErr.Err
	}
	return err
}
