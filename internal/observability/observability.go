// Package observability configures logging and trace propagation for the
// process. Logs always go to the console; they are additionally exported
// through the OpenTelemetry log SDK when an exporter is configured.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName identifies this process in exported telemetry.
const ServiceName = "inventa"

// Exporter selects where log records are exported besides the console.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// Options configures Instrument.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	// Exporter defaults to ExporterNone. OTLP exporters read the standard
	// OTEL_EXPORTER_OTLP_* environment variables.
	Exporter Exporter
	// Console defaults to os.Stderr.
	Console io.Writer
}

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the global text map
// propagator. The returned ShutdownFunc must be called before exit to flush
// exported records.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handler, err := consoleHandler(console, opts.Format, opts.Level)
	if err != nil {
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(context.Context) error { return nil }

	provider, err := newLoggerProvider(ctx, opts.Exporter, opts.Level)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		global.SetLoggerProvider(provider)
		handler = fanout{
			handler,
			otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider)),
		}
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func consoleHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newLoggerProvider returns nil when exporting is disabled.
func newLoggerProvider(ctx context.Context, exporter Exporter, level slog.Level) (*sdklog.LoggerProvider, error) {
	var processor sdklog.Processor

	switch exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout log exporter: %w", err)
		}
		processor = sdklog.NewSimpleProcessor(exp)
	case ExporterOTLPHTTP:
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP/HTTP log exporter: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exp)
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP/gRPC log exporter: %w", err)
		}
		processor = sdklog.NewBatchProcessor(exp)
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", exporter)
	}

	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	), nil
}

// severity maps a slog level onto the OpenTelemetry severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
