package apiclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuerpobomberos/inventa/internal/secretstore"
	"github.com/cuerpobomberos/inventa/internal/session"
)

// errRefreshAborted settles waiters when the leader exits without a result.
var errRefreshAborted = errors.New("token refresh aborted")

// refreshResult is delivered to every caller waiting on a refresh burst.
type refreshResult struct {
	token string
	err   error
}

// coordinator guarantees at most one in-flight call to the refresh endpoint.
// The first caller of a burst leads the refresh; later callers wait in FIFO
// order and are settled exactly once when the leader finishes.
type coordinator struct {
	session   *session.Session
	refresh   func(ctx context.Context, refreshToken string) (*tokenResponse, error)
	onExpired func(ctx context.Context, err error)
	metrics   *Metrics

	mu         sync.Mutex
	refreshing bool
	// queue is non-empty only while refreshing is true.
	// Each channel has capacity 1 so settling never blocks on an abandoned waiter.
	queue []chan refreshResult
}

// acquire returns an access token newer than staleToken, refreshing if needed.
// Errors are terminal *AuthError values (the session is already cleared) or
// ctx errors for callers that stopped waiting.
func (c *coordinator) acquire(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()

	if c.refreshing {
		ch := make(chan refreshResult, 1)
		c.queue = append(c.queue, ch)
		c.mu.Unlock()
		c.metrics.waited()

		slog.DebugContext(ctx, "waiting for in-flight token refresh")
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// A refresh settled after this request was sent: its token is already newer.
	if creds, ok := c.session.Credentials(); ok && creds.AccessToken != "" && creds.AccessToken != staleToken {
		c.mu.Unlock()
		return creds.AccessToken, nil
	}

	c.refreshing = true
	c.mu.Unlock()

	return c.lead(ctx)
}

// lead performs the single refresh of a burst. The deferred settle resets the
// in-progress flag and drains the queue whatever the outcome.
func (c *coordinator) lead(ctx context.Context) (token string, err error) {
	defer func() {
		if token == "" && err == nil {
			err = errRefreshAborted
		}
		c.settle(token, err)
		if err != nil {
			c.notifyExpired(ctx, err)
		}
	}()

	return c.runRefresh(context.WithoutCancel(ctx))
}

// runRefresh resolves the refresh token, calls the endpoint and applies the result.
// Session state is updated or cleared before it returns, so waiters released
// by settle always observe the final state. A sign-in or sign-out that lands
// while the call is in flight wins over its result.
func (c *coordinator) runRefresh(ctx context.Context) (string, error) {
	gen := c.session.Generation()

	refreshToken, err := c.session.RefreshToken(ctx)
	if err != nil && !errors.Is(err, secretstore.ErrNotFound) {
		slog.WarnContext(ctx, "failed to read refresh token", "error", err)
	}
	if refreshToken == "" {
		slog.InfoContext(ctx, "no refresh token available, forcing sign-out")
		return "", c.teardown(ctx, gen, &AuthError{Reason: "token refresh impossible", Err: ErrNoRefreshToken})
	}

	slog.InfoContext(ctx, "refreshing access token", "refresh_token_suffix", suffix(refreshToken))

	res, err := c.refresh(ctx, refreshToken)
	if err != nil {
		c.metrics.refreshed(false)
		slog.WarnContext(ctx, "token refresh failed", "error", err)
		return "", c.teardown(ctx, gen, &AuthError{Reason: "token refresh failed", StatusCode: statusCode(err), Err: err})
	}
	c.metrics.refreshed(true)

	err = c.session.ReplaceTokens(ctx, gen, res.Access, res.Refresh, res.Profile)
	switch {
	case errors.Is(err, session.ErrSessionChanged):
		slog.InfoContext(ctx, "session changed during token refresh, discarding new tokens")
		return "", &AuthError{Reason: "session changed during token refresh", Err: err}
	case err != nil:
		slog.ErrorContext(ctx, "failed to persist refreshed tokens", "error", err)
		return "", c.teardown(ctx, gen, &AuthError{Reason: "persisting refreshed tokens failed", Err: err})
	}

	slog.InfoContext(ctx, "token refresh succeeded", "rotated_refresh", res.Refresh != "")
	return res.Access, nil
}

// settle releases every waiter in arrival order and returns to idle.
func (c *coordinator) settle(token string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.queue {
		ch <- refreshResult{token: token, err: err}
	}
	c.queue = nil
	c.refreshing = false
}

// teardown clears the session of generation gen and returns authErr for the caller.
// A session signed in again since gen is left untouched.
func (c *coordinator) teardown(ctx context.Context, gen uint64, authErr *AuthError) error {
	err := c.session.Expire(ctx, gen)
	switch {
	case errors.Is(err, session.ErrSessionChanged):
		slog.DebugContext(ctx, "session changed before teardown, leaving it in place")
		return authErr
	case err != nil:
		slog.ErrorContext(ctx, "failed to clear persisted session", "error", err)
	}
	c.metrics.tornDown()
	return authErr
}

// terminate handles a terminal failure detected outside a refresh burst.
func (c *coordinator) terminate(ctx context.Context, authErr *AuthError) error {
	err := c.teardown(context.WithoutCancel(ctx), c.session.Generation(), authErr)
	c.notifyExpired(ctx, err)
	return err
}

// notifyExpired reports forced sign-outs. Losing a race with a user-driven
// sign-in or sign-out is not one.
func (c *coordinator) notifyExpired(ctx context.Context, err error) {
	var authErr *AuthError
	if c.onExpired == nil || !errors.As(err, &authErr) || errors.Is(err, session.ErrSessionChanged) {
		return
	}
	c.onExpired(ctx, err)
}

// suffix returns the last characters of a secret for log correlation.
func suffix(secret string) string {
	const n = 4
	if len(secret) <= n {
		return "****"
	}
	return "..." + secret[len(secret)-n:]
}
