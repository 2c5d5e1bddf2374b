// Package gateway serves a local HTTP endpoint that forwards requests to the
// backend through the authenticated pipeline, so local tools can share one
// signed-in session without handling tokens themselves.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuerpobomberos/inventa/internal/observability/middleware"
	"github.com/cuerpobomberos/inventa/internal/session"
)

// apiPrefix is stripped before the path is resolved against the backend base URL.
const apiPrefix = "/api"

// Backend is the authenticated client the gateway forwards through.
// *apiclient.Client satisfies it.
type Backend interface {
	BaseURL() *url.URL
	Transport() http.RoundTripper
	Session() *session.Session
}

// Gateway is the local HTTP server.
type Gateway struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Gateway implements http.Handler
var _ http.Handler = (*Gateway)(nil)

// New creates a gateway for backend. Metrics are served from gatherer when it is non-nil.
func New(backend Backend, gatherer prometheus.Gatherer) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("missing backend")
	}
	base := backend.BaseURL()

	reverseProxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, apiPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(base)
		},
		Transport:    &headerFilter{base: backend.Transport()},
		ErrorHandler: writeUpstreamError,
	}

	logger := slog.Default()
	mux := http.NewServeMux()

	mux.Handle(apiPrefix+"/", middleware.Chain(reverseProxy,
		middleware.Logging(logger),
		middleware.Recovery,
	))
	mux.Handle("GET /healthz", health(backend.Session()))
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &Gateway{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Listen errors are returned directly; errors while serving are sent to the
// returned channel, which is closed when the server stops.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (g *Gateway) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	g.server = &http.Server{
		Handler:      g,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // two backend calls plus a refresh
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := g.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.InfoContext(ctx, "gateway listening", "address", listener.Addr().String())
	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	if err := g.server.Shutdown(ctx); err != nil {
		_ = g.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func health(sess *session.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, map[string]any{
			"status":        "ok",
			"authenticated": sess.Authenticated(),
		}, http.StatusOK)
	})
}
