package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/cuerpobomberos/inventa/internal/app"
)

const (
	envPrefix = "INVENTA_"
	// secretEnvPrefix marks variables read by the env secret store, not configuration.
	secretEnvPrefix = "INVENTA_SECRET_"
	// configFileName is looked up under the user config dir when --config is absent.
	configFileName = "inventa/config.toml"
)

// envAliases are short names for the settings most often overridden per device.
var envAliases = map[string]string{
	"INVENTA_API_URL": "backend.base_url",
	"INVENTA_STORE":   "storage.type",
}

// configPath returns explicit when set, otherwise the per-user config file if
// one exists. An empty result means defaults, environment and flags only.
func configPath(explicit string, userConfigDir func() (string, error)) string {
	if explicit != "" {
		return explicit
	}
	dir, err := userConfigDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(dir, configFileName)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// envKey maps an environment variable to its config key, or "" to skip it.
//
//	INVENTA_BACKEND__BASE_URL            → backend.base_url
//	INVENTA_BACKEND__ENDPOINTS__REFRESH  → backend.endpoints.refresh
//	INVENTA_API_URL                      → backend.base_url
//	INVENTA_SECRET_AUTH_TOKEN            → "" (a stored token, not configuration)
func envKey(name string) string {
	if strings.HasPrefix(name, secretEnvPrefix) {
		return ""
	}
	if alias, ok := envAliases[name]; ok {
		return alias
	}
	stripped := strings.TrimPrefix(name, envPrefix)
	return strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
}

// loadConfig layers configuration sources, later ones winning:
// config file → environment variables → CLI flags, then fills defaults and validates.
func loadConfig(path string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(name, value string) (string, any) {
			return envKey(name), value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// nonConfigFlags are command inputs rather than configuration keys.
var nonConfigFlags = map[string]bool{
	"config":   true,
	"username": true,
	"email":    true,
	"raw":      true,
}

// flagKey maps a flag name to its config key: "--" nests, "-" becomes "_".
//
//	--backend--base-url → backend.base_url
//	--log-level         → log_level
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}

// extractAndTransformFlags collects explicitly set config flags, parent flags included.
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if nonConfigFlags[name] || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}
	return values
}
