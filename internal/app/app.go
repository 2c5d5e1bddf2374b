package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
	"github.com/cuerpobomberos/inventa/internal/gateway"
	"github.com/cuerpobomberos/inventa/internal/inventory"
	"github.com/cuerpobomberos/inventa/internal/session"
)

// App wires the secret store, session, backend client and gateway together.
type App struct {
	cfg      *Config
	registry *prometheus.Registry
	client   *apiclient.Client

	// restore loads persisted credentials once; no I/O happens in New.
	restore func() (bool, error)
}

// New creates a new App instance. No secrets are read until Restore.
func New(cfg *Config, opts ...apiclient.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Storage.NewSecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}
	sess, err := session.New(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clientOpts := append(cfg.Backend.ClientOptions(),
		apiclient.WithMetrics(apiclient.NewMetrics(registry)),
		apiclient.WithSessionExpiredHandler(func(ctx context.Context, err error) {
			slog.WarnContext(ctx, "session expired, sign in again", "error", err)
		}),
	)
	client, err := apiclient.New(cfg.Backend.BaseURL, sess, append(clientOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	a := &App{
		cfg:      cfg,
		registry: registry,
		client:   client,
	}
	a.restore = sync.OnceValues(func() (bool, error) {
		return sess.Restore(context.Background())
	})
	return a, nil
}

// Client returns the authenticated backend client.
func (a *App) Client() *apiclient.Client {
	return a.client
}

// Inventory returns the inventory resources bound to the client.
func (a *App) Inventory() *inventory.Service {
	return inventory.New(a.client)
}

// Volunteers returns the personnel records bound to the client.
func (a *App) Volunteers() *inventory.Volunteers {
	return inventory.NewVolunteers(a.client)
}

// Registry returns the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Restore loads the persisted session on first call and reports whether it is
// authenticated. Later calls return the first result.
func (a *App) Restore(ctx context.Context) (bool, error) {
	ok, err := a.restore()
	if err != nil {
		return false, fmt.Errorf("restoring session: %w", err)
	}
	slog.DebugContext(ctx, "session restored", "authenticated", ok)
	return ok, nil
}

// Close waits for background backend notifications, bounded by the shutdown timeout.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Shutdown.Timeout)
	defer cancel()
	return a.client.Close(ctx)
}

// Start runs the local gateway and blocks until ctx is cancelled or the
// gateway fails.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.Restore(ctx); err != nil {
		return err
	}
	if !a.client.Session().Authenticated() {
		slog.WarnContext(ctx, "no stored session, gateway requests will fail until inventa login")
	}

	gw, err := gateway.New(a.client, a.registry)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	address := net.JoinHostPort(a.cfg.Gateway.Host, strconv.FormatUint(uint64(a.cfg.Gateway.Port), 10))
	var shutdownFuncs []func(context.Context) error
	shutdownFuncs = append(shutdownFuncs, a.client.Close)

	gatewayErrCh, err := gw.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, gw.Shutdown)

	// errgroup cancels gCtx on the first runtime error
	g.Go(func() error {
		select {
		case err := <-gatewayErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "backend", a.client.BaseURL().Redacted())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.InfoContext(shutdownCtx, "application stopped")
	return nil
}
