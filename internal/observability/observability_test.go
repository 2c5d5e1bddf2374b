package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	logger := slog.Default()
	propagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		slog.SetDefault(logger)
		otel.SetTextMapPropagator(propagator)
	})
}

func TestInstrumentConsoleFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, out string)
	}{
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var rec map[string]any
				if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
					t.Fatalf("output is not JSON: %v (%q)", err, out)
				}
				if rec["msg"] != "station synced" || rec["station"] != "primera" {
					t.Errorf("record = %v", rec)
				}
			},
		},
		{
			name:   "text",
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, `msg="station synced"`) || !strings.Contains(out, "station=primera") {
					t.Errorf("output = %q", out)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobals(t)
			var buf bytes.Buffer
			shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelInfo, Format: tt.format, Console: &buf})
			if err != nil {
				t.Fatalf("Instrument: %v", err)
			}
			t.Cleanup(func() { _ = shutdown(context.Background()) })

			slog.Debug("hidden")
			slog.Info("station synced", "station", "primera")

			if strings.Contains(buf.String(), "hidden") {
				t.Error("debug record written at info level")
			}
			tt.check(t, buf.String())
		})
	}
}

func TestInstrumentInstallsTraceContextPropagator(t *testing.T) {
	restoreGlobals(t)
	shutdown, err := Instrument(context.Background(), Options{Console: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestInstrumentRejectsInvalidOptions(t *testing.T) {
	restoreGlobals(t)
	if _, err := Instrument(context.Background(), Options{Format: "xml", Console: &bytes.Buffer{}}); err == nil {
		t.Error("unknown format should fail")
	}
	if _, err := Instrument(context.Background(), Options{Exporter: "carrier-pigeon", Console: &bytes.Buffer{}}); err == nil {
		t.Error("unknown exporter should fail")
	}
}

func TestStdoutExporterProvider(t *testing.T) {
	provider, err := newLoggerProvider(context.Background(), ExporterStdout, slog.LevelWarn)
	if err != nil {
		t.Fatalf("newLoggerProvider: %v", err)
	}
	if provider == nil {
		t.Fatal("stdout exporter should create a provider")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}

	none, err := newLoggerProvider(context.Background(), ExporterNone, slog.LevelInfo)
	if err != nil || none != nil {
		t.Errorf("none exporter = %v, %v; want nil, nil", none, err)
	}
}

func TestSeverity(t *testing.T) {
	tests := map[slog.Level]minsev.Severity{
		slog.LevelDebug: minsev.SeverityDebug,
		slog.LevelInfo:  minsev.SeverityInfo,
		slog.LevelWarn:  minsev.SeverityWarn,
		slog.LevelError: minsev.SeverityError,
		slog.Level(12):  minsev.SeverityError,
	}
	for level, want := range tests {
		if got := severity(level); got != want {
			t.Errorf("severity(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestFanout(t *testing.T) {
	var info, debug bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	logger := slog.New(h).With("component", "coordinator")

	logger.Debug("waiting for refresh")
	logger.Info("refresh succeeded")

	if strings.Contains(info.String(), "waiting") || !strings.Contains(info.String(), "refresh succeeded") {
		t.Errorf("info handler output = %q", info.String())
	}
	if !strings.Contains(debug.String(), "waiting") || !strings.Contains(debug.String(), "component=coordinator") {
		t.Errorf("debug handler output = %q", debug.String())
	}
}
