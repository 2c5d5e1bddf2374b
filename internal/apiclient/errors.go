package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated matches every terminal authentication failure.
	// When it is returned the session has already been cleared.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNoRefreshToken means neither memory nor the secret store holds a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRetryRejected means a request replayed with a fresh access token was rejected again.
	ErrRetryRejected = errors.New("request rejected after token refresh")

	// ErrInvalidCredentials is returned by SignIn when the backend rejects the username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthError is a terminal authentication failure. Before an AuthError reaches
// any caller the session is cleared, or was already replaced by a sign-in or
// sign-out that overtook the refresh (see session.ErrSessionChanged).
type AuthError struct {
	// Reason is a short description of what failed.
	Reason string
	// StatusCode is the HTTP status that caused the failure, 0 if none.
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap exposes both ErrUnauthenticated and the underlying cause.
func (e *AuthError) Unwrap() []error {
	return []error{ErrUnauthenticated, e.Err}
}

// ConnectivityError means no response was received (timeout, DNS, offline).
// It is never retried by the client.
type ConnectivityError struct {
	Method string
	URL    string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response surfaced by the JSON helpers.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	// Body holds at most maxErrorBody bytes of the response.
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// statusCode returns the HTTP status carried by err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
