package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuerpobomberos/inventa/internal/session"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// tokenResponse is the decoded body of the login and refresh endpoints.
type tokenResponse struct {
	Access  string
	Refresh string // empty when the backend does not rotate refresh tokens
	Profile *session.Profile
}

// refresher calls the refresh endpoint directly on the base transport so the
// call never passes through the credential and classification stages.
type refresher struct {
	client *http.Client
	url    string
}

// refresh exchanges refreshToken for a new access token.
func (r *refresher) refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	fields, err := postJSON(ctx, r.client, r.url, map[string]string{"refresh": refreshToken}, "")
	if err != nil {
		return nil, err
	}
	return decodeTokenResponse(fields)
}

// postJSON sends body to url and decodes a JSON object response.
// bearer is attached when non-empty.
func postJSON(ctx context.Context, client *http.Client, url string, body any, bearer string) (map[string]json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Method: req.Method, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: req.Method, URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return fields, nil
}

// decodeTokenResponse extracts tokens and passes every other field through as profile data.
func decodeTokenResponse(fields map[string]json.RawMessage) (*tokenResponse, error) {
	var res tokenResponse
	if raw, ok := fields["access"]; ok {
		if err := json.Unmarshal(raw, &res.Access); err != nil {
			return nil, fmt.Errorf("decoding access token: %w", err)
		}
	}
	if res.Access == "" {
		return nil, errors.New("response carries no access token")
	}
	if raw, ok := fields["refresh"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &res.Refresh); err != nil {
			return nil, fmt.Errorf("decoding refresh token: %w", err)
		}
	}
	res.Profile = session.ProfileFromFields(fields)
	return &res, nil
}
