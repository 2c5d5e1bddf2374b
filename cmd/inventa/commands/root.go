package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cuerpobomberos/inventa/internal/app"
	"github.com/cuerpobomberos/inventa/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "inventa",
		Usage: "Station inventory backend client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "backend--base-url",
				Usage: "backend API base URL",
				Value: app.DefaultConfigBackendBaseURL,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "secret storage (file|keyring|env)",
				Value: string(app.DefaultConfigStorageType),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			whoamiCommand(),
			refreshCommand(),
			unlockCommand(),
			biometricCommand(),
			resetPasswordCommand(),
			getCommand(),
			inventoryCommand(),
			personnelCommand(),
			serveCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// invocation is what every command action works with.
type invocation struct {
	app      *app.App
	shutdown observability.ShutdownFunc
}

// setup loads configuration, installs logging and builds the app.
func setup(ctx context.Context, cmd *cli.Command) (*invocation, error) {
	cfg, err := loadConfig(configPath(cmd.String("config"), os.UserConfigDir), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to create app: %w", err)
	}

	return &invocation{app: application, shutdown: shutdown}, nil
}

// close waits for background work and flushes telemetry.
func (r *invocation) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := r.app.Close(ctx); err != nil {
		slog.DebugContext(ctx, "background work did not finish", "error", err)
	}
	if err := r.shutdown(ctx); err != nil {
		slog.DebugContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

// withApp wraps an action that needs a restored session.
func withApp(action func(ctx context.Context, cmd *cli.Command, a *app.App) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.close(ctx)

		if _, err := rt.app.Restore(ctx); err != nil {
			return err
		}
		return action(ctx, cmd, rt.app)
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
