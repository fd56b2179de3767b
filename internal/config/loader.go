package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "VITALS_"
	envConfigPath = "VITALS_CONFIG"
	envDotenvPath = "VITALS_DOTENV"
	defaultDotenv = ".env"
)

var (
	backends   = []string{"memory", "sqlite", "pebble"}
	strategies = []string{"notification", "cursor"}
	formats    = []string{"text", "json"}
)

// Load builds a Config by layering defaults, dotenv, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. dotenv file (VITALS_DOTENV, or ./.env when present); never overrides
//     variables already set in the process
//  3. file (YAML) if VITALS_CONFIG is set
//  4. env (prefix VITALS_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	if err := loadDotenv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// VITALS_FETCH_TIMEOUT_MS -> fetch_timeout_ms (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotenv() error {
	path := os.Getenv(envDotenvPath)
	explicit := path != ""
	if !explicit {
		path = defaultDotenv
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: dotenv %s: %w", ErrLoadConfig, path, err)
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !slices.Contains(backends, c.AnchorBackend):
		return fmt.Errorf("%w: unknown anchor_backend %q", ErrInvalidConfig, c.AnchorBackend)
	case c.AnchorBackend != "memory" && c.AnchorPath == "":
		return fmt.Errorf("%w: anchor_path is required for %s", ErrInvalidConfig, c.AnchorBackend)
	case !slices.Contains(strategies, strings.ToLower(c.DefaultStrategy)):
		return fmt.Errorf("%w: unknown default_strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	case !slices.Contains(formats, c.LogFormat):
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.FetchTimeoutMS <= 0:
		return fmt.Errorf("%w: fetch_timeout_ms must be positive", ErrInvalidConfig)
	case c.FailureThreshold < 1:
		return fmt.Errorf("%w: failure_threshold must be at least 1", ErrInvalidConfig)
	case c.MaxFetchConcurrency < 0, c.MaxSessions < 0, c.NotificationBuffer < 1:
		return fmt.Errorf("%w: negative limits or empty notification_buffer", ErrInvalidConfig)
	case c.SimulatedLatencyMinMS < 0 || c.SimulatedLatencyMaxMS < c.SimulatedLatencyMinMS:
		return fmt.Errorf("%w: simulated latency bounds out of order", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
