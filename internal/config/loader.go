// Package config loads the ambient pkg/config.Config tree from a TOML file,
// overlaid with environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	pkgconfig "github.com/chain-relay/evmindexor/pkg/config"
)

// EnvPrefix is the prefix environment variables must carry to override
// config values, e.g. EVMINDEXOR_DB_PATH overrides db.path.
const EnvPrefix = "EVMINDEXOR_"

// LoadFromFile loads the ambient configuration from a TOML file at path,
// overlays any EVMINDEXOR_-prefixed environment variables, applies
// defaults, and validates the result.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := ko.Load(env.Provider(EnvPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg pkgconfig.Config
	if err := ko.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return processConfig(&cfg)
}

// envKeyTransform converts EVMINDEXOR_DB_PATH into db.path, matching the
// struct's koanf tags.
func envKeyTransform(s string) string {
	trimmed := strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(trimmed), "_", ".")
}

// processConfig applies defaults and validates the configuration.
func processConfig(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
