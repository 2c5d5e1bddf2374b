package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
)

// ErrorResponse mirrors the backend's error body so clients parse both alike.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// writeUpstreamError maps pipeline failures to local status codes.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var connErr *apiclient.ConnectivityError
	switch {
	case errors.Is(err, apiclient.ErrUnauthenticated):
		slog.InfoContext(ctx, "gateway request without valid session", "error", err)
		writeJSON(ctx, w, ErrorResponse{Detail: "not signed in, run inventa login"}, http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// client went away
		w.WriteHeader(499)
	case errors.As(err, &connErr) && errors.Is(err, context.DeadlineExceeded):
		slog.WarnContext(ctx, "backend timed out", "error", err)
		writeJSON(ctx, w, ErrorResponse{Detail: "backend timed out"}, http.StatusGatewayTimeout)
	default:
		slog.WarnContext(ctx, "backend unreachable", "error", err)
		writeJSON(ctx, w, ErrorResponse{Detail: "backend unreachable"}, http.StatusBadGateway)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}
