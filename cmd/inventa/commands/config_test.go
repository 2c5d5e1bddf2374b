package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cuerpobomberos/inventa/internal/app"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "inventa.toml")
	content := `
log_format = "json"

[backend]
base_url = "https://file.example/api/v1/"
timeout = "20s"
refresh_on_forbidden = true

[storage]
type = "file"
dir = "` + filepath.ToSlash(dir) + `"

[gateway]
port = 4200
`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	var got *app.Config
	cmd := &cli.Command{
		Name: "inventa",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.StringFlag{Name: "backend--base-url", Value: app.DefaultConfigBackendBaseURL},
			&cli.IntFlag{Name: "gateway--port", Value: int(app.DefaultConfigGatewayPort)},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			var err error
			got, err = loadConfig(cmd.String("config"), cmd, environ(
				"INVENTA_BACKEND__BASE_URL=https://env.example/api/v1/",
				"INVENTA_GATEWAY__PORT=4300",
				"INVENTA_SECRET_AUTH_TOKEN=not-config",
				"HOME=/root",
			))
			return err
		},
	}

	args := []string{"inventa", "--config", configPath, "--backend--base-url", "https://flag.example/api/v1/"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.Backend.BaseURL != "https://flag.example/api/v1/" {
		t.Errorf("BaseURL = %q, flag should win", got.Backend.BaseURL)
	}
	if got.Gateway.Port != 4300 {
		t.Errorf("Gateway.Port = %d, env should beat file and unset flag default", got.Gateway.Port)
	}
	if got.Backend.Timeout != 20*time.Second || !got.Backend.RefreshOnForbidden {
		t.Errorf("Backend = %+v, want file values", got.Backend)
	}
	if got.LogFormat != app.LogFormatJSON {
		t.Errorf("LogFormat = %q", got.LogFormat)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	_, err := loadConfig("", nil, environ(
		"INVENTA_STORAGE__TYPE=sqlite",
	))
	if err == nil {
		t.Error("invalid storage type should fail validation")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := loadConfig("", nil, environ())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend.BaseURL != app.DefaultConfigBackendBaseURL || cfg.Storage.Type != app.StorageTypeFile {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"INVENTA_BACKEND__BASE_URL":           "backend.base_url",
		"INVENTA_BACKEND__ENDPOINTS__REFRESH": "backend.endpoints.refresh",
		"INVENTA_LOG_LEVEL":                   "log_level",
		"INVENTA_API_URL":                     "backend.base_url",
		"INVENTA_STORE":                       "storage.type",
		"INVENTA_SECRET_AUTH_TOKEN":           "",
	}
	for name, want := range tests {
		if got := envKey(name); got != want {
			t.Errorf("envKey(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLoadConfigEnvAliases(t *testing.T) {
	cfg, err := loadConfig("", nil, environ(
		"INVENTA_API_URL=https://cuartel.example/api/v1/",
		"INVENTA_STORE=env",
	))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend.BaseURL != "https://cuartel.example/api/v1/" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Storage.Type != app.StorageTypeEnv {
		t.Errorf("Storage.Type = %q, want env", cfg.Storage.Type)
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	userDir := func() (string, error) { return dir, nil }

	if got := configPath("/etc/inventa.toml", userDir); got != "/etc/inventa.toml" {
		t.Errorf("explicit path = %q", got)
	}
	if got := configPath("", userDir); got != "" {
		t.Errorf("missing user config = %q, want empty", got)
	}

	want := filepath.Join(dir, "inventa", "config.toml")
	if err := os.MkdirAll(filepath.Dir(want), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("log_format = \"json\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := configPath("", userDir); got != want {
		t.Errorf("user config = %q, want %q", got, want)
	}

	failing := func() (string, error) { return "", os.ErrNotExist }
	if got := configPath("", failing); got != "" {
		t.Errorf("unknown user dir = %q, want empty", got)
	}
}
