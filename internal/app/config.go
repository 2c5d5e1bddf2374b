package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
	"github.com/cuerpobomberos/inventa/internal/observability"
	"github.com/cuerpobomberos/inventa/internal/secretstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the secret store backends.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeEnv     StorageType = "env"
	StorageTypeKeyring StorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat          = LogFormatText
	DefaultConfigTelemetryExporter  = observability.ExporterNone
	DefaultConfigBackendBaseURL     = "http://127.0.0.1:8000/api/v1/"
	DefaultConfigBackendTimeout     = apiclient.DefaultTimeout
	DefaultConfigStorageType        = StorageTypeFile
	DefaultConfigKeyringService     = "inventa"
	DefaultConfigEnvPrefix          = "INVENTA_SECRET_"
	DefaultConfigGatewayHost        = "127.0.0.1"
	DefaultConfigGatewayPort        = 4100
	DefaultConfigShutdownTimeout    = 5 * time.Second
	defaultConfigStorageDirBaseName = "inventa"
)

// TelemetryConfig selects the log export pipeline.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// EndpointsConfig overrides backend auth paths relative to the base URL.
type EndpointsConfig struct {
	Login         string `json:"login,omitempty"`
	Refresh       string `json:"refresh,omitempty"`
	Logout        string `json:"logout,omitempty"`
	Me            string `json:"me,omitempty"`
	PasswordReset string `json:"password_reset,omitempty"`
}

// BackendConfig holds the REST backend settings.
type BackendConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// Timeout bounds each network call, including the refresh call.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
	// RefreshOnForbidden treats 403 as an expired token.
	RefreshOnForbidden bool            `json:"refresh_on_forbidden"`
	Endpoints          EndpointsConfig `json:"endpoints"`
}

// StorageConfig describes where session secrets are kept.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file env keyring"`

	Dir            string `json:"dir,omitempty"`             // file: directory holding one file per secret
	KeyringService string `json:"keyring_service,omitempty"` // keyring: service name
	EnvPrefix      string `json:"env_prefix,omitempty"`      // env: variable name prefix
}

// NewSecretStore creates the secret store selected by the configuration.
func (s *StorageConfig) NewSecretStore() (secretstore.Store, error) {
	switch s.Type {
	case StorageTypeFile:
		return secretstore.NewFileStore(s.Dir)
	case StorageTypeEnv:
		return secretstore.NewEnvStore(s.EnvPrefix)
	case StorageTypeKeyring:
		return secretstore.NewKeyringStore(s.KeyringService)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// GatewayConfig holds the local gateway listener settings.
type GatewayConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Backend   BackendConfig   `json:"backend"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultConfigBackendBaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultConfigBackendTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = DefaultConfigGatewayHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultConfigGatewayPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(configDir, defaultConfigStorageDirBaseName)
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigEnvPrefix
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir required for file storage")
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("storage.env_prefix required for env storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			return errors.New("storage.keyring_service required for keyring storage")
		}
	}

	return nil
}

// ClientOptions translates the backend settings into client options.
func (b *BackendConfig) ClientOptions() []apiclient.Option {
	return []apiclient.Option{
		apiclient.WithTimeout(b.Timeout),
		apiclient.WithRefreshOnForbidden(b.RefreshOnForbidden),
		apiclient.WithEndpoints(apiclient.Endpoints{
			Login:         b.Endpoints.Login,
			Refresh:       b.Endpoints.Refresh,
			Logout:        b.Endpoints.Logout,
			Me:            b.Endpoints.Me,
			PasswordReset: b.Endpoints.PasswordReset,
		}),
	}
}
