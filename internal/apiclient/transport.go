package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"

	"github.com/cuerpobomberos/inventa/internal/session"
)

const requestIDHeader = "X-Request-ID"

// outcome is the classification of one round trip.
type outcome int

const (
	outcomePass         outcome = iota // 2xx or a status this layer does not handle
	outcomeConnectivity                // no response received
	outcomeRefresh                     // authorization failure eligible for refresh
	outcomeTerminal                    // authorization failure on an already-retried request
)

func (o outcome) String() string {
	switch o {
	case outcomePass:
		return "pass"
	case outcomeConnectivity:
		return "connectivity"
	case outcomeRefresh:
		return "refresh"
	case outcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type retriedKey struct{}

// withRetried marks a request as already replayed after a refresh.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Transport is the authenticated request pipeline. Each round trip runs the
// stages attach-credential, classify-response and, for eligible
// authorization failures, refresh-and-retry.
type Transport struct {
	base               http.RoundTripper
	session            *session.Session
	coordinator        *coordinator
	timeout            time.Duration
	refreshOnForbidden bool
	metrics            *Metrics

	// exemptPaths never trigger a refresh; anonymousPaths never carry a credential.
	exemptPaths    []string
	anonymousPaths []string
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out, err := replayable(req)
	if err != nil {
		return nil, err
	}

	staleToken := t.attachCredential(ctx, out)
	resp, err := t.send(out)

	switch o := t.classify(out, resp, err); o {
	case outcomeConnectivity:
		t.metrics.observe(o)
		return nil, &ConnectivityError{Method: out.Method, URL: out.URL.Redacted(), Err: err}
	case outcomeRefresh:
		drain(resp)
		return t.refreshAndRetry(ctx, out, staleToken)
	case outcomeTerminal:
		// Only reachable for requests marked retried by an outer pipeline
		t.metrics.observe(o)
		drain(resp)
		return nil, t.coordinator.terminate(ctx, &AuthError{Reason: "request rejected", StatusCode: resp.StatusCode, Err: ErrRetryRejected})
	default:
		t.metrics.observe(o)
		return resp, nil
	}
}

// attachCredential sets the bearer header from the session, or strips it when
// no token is available. Returns the token used.
func (t *Transport) attachCredential(ctx context.Context, req *http.Request) string {
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if t.matches(req, t.anonymousPaths) {
		req.Header.Del("Authorization")
		return ""
	}

	token := t.session.AccessToken(ctx)
	if token == "" {
		req.Header.Del("Authorization")
		return ""
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	return token
}

// classify maps a round trip result to the action the pipeline takes.
func (t *Transport) classify(req *http.Request, resp *http.Response, err error) outcome {
	if err != nil {
		return outcomeConnectivity
	}
	if !t.authFailure(resp.StatusCode) || t.matches(req, t.exemptPaths) {
		return outcomePass
	}
	if isRetried(req.Context()) {
		return outcomeTerminal
	}
	return outcomeRefresh
}

// refreshAndRetry obtains a fresh token through the coordinator and replays
// req once, marked as retried.
func (t *Transport) refreshAndRetry(ctx context.Context, req *http.Request, staleToken string) (*http.Response, error) {
	token, err := t.coordinator.acquire(ctx, staleToken)
	if err != nil {
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(retry)

	slog.DebugContext(ctx, "replaying request with refreshed token", "method", retry.Method, "path", retry.URL.Path)

	resp, err := t.send(retry)
	switch o := t.classify(retry, resp, err); o {
	case outcomeConnectivity:
		t.metrics.observe(o)
		return nil, &ConnectivityError{Method: retry.Method, URL: retry.URL.Redacted(), Err: err}
	case outcomeTerminal:
		t.metrics.observe(o)
		drain(resp)
		slog.WarnContext(ctx, "request rejected after token refresh, forcing sign-out", "status", resp.StatusCode, "path", retry.URL.Path)
		return nil, t.coordinator.terminate(ctx, &AuthError{Reason: "request rejected", StatusCode: resp.StatusCode, Err: ErrRetryRejected})
	default:
		t.metrics.observe(o)
		return resp, nil
	}
}

// send performs one network call bounded by the per-call timeout.
// The timeout context is released when the response body is closed.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (t *Transport) authFailure(status int) bool {
	return status == http.StatusUnauthorized || (t.refreshOnForbidden && status == http.StatusForbidden)
}

func (t *Transport) matches(req *http.Request, paths []string) bool {
	p := strings.TrimSuffix(req.URL.Path, "/")
	for _, candidate := range paths {
		if p == strings.TrimSuffix(candidate, "/") {
			return true
		}
	}
	return false
}

// replayable clones req so it can be sent twice. Bodies without GetBody are
// buffered in memory.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

// rewind returns a fresh copy of req with its body reset and the retried marker set.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(withRetried(req.Context()))
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}

// drain discards and closes a response that will not reach the caller.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
