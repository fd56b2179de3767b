// Package config defines process configuration and how it is loaded.
//
// Conventions:
// - New() returns a Config holding every default.
// - Load layers a dotenv file, a YAML file and VITALS_* env vars on top.
// - Errors are wrapped in this package's sentinels.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Timezone names the zone that defines a calendar day, e.g. "Europe/Berlin".
	// "Local" uses the host zone.
	Timezone string `koanf:"timezone"`

	// FetchTimeoutMS bounds each per-kind query.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`
	// MaxFetchConcurrency caps parallel queries per aggregation. Zero means no cap.
	MaxFetchConcurrency int `koanf:"max_fetch_concurrency"`

	// AnchorBackend selects where change anchors live: memory, sqlite or pebble.
	AnchorBackend string `koanf:"anchor_backend"`
	// AnchorPath is the SQLite file or Pebble directory.
	AnchorPath string `koanf:"anchor_path"`
	// AnchorKeyPrefix namespaces anchors, e.g. per user.
	AnchorKeyPrefix string `koanf:"anchor_key_prefix"`

	// MaxSessions caps live observation sessions. Zero means no cap.
	MaxSessions int `koanf:"max_sessions"`
	// NotificationBuffer is each session's queue capacity.
	NotificationBuffer int `koanf:"notification_buffer"`
	// FailureThreshold is how many consecutive failures degrade a session.
	FailureThreshold int `koanf:"failure_threshold"`
	// DefaultStrategy is notification or cursor.
	DefaultStrategy string `koanf:"default_strategy"`

	// OTLPEndpoint enables trace export when set, e.g. "localhost:4318".
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`

	// SimulatedLatencyMinMS and SimulatedLatencyMaxMS make the bundled
	// in-memory store answer slowly.
	SimulatedLatencyMinMS int `koanf:"simulated_latency_min_ms"`
	SimulatedLatencyMaxMS int `koanf:"simulated_latency_max_ms"`
	// GrantAll starts the bundled store with every kind authorized.
	GrantAll bool `koanf:"grant_all"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		Timezone:              "Local",
		FetchTimeoutMS:        10_000,
		MaxFetchConcurrency:   0,
		AnchorBackend:         "memory",
		AnchorPath:            "vitals-anchors.db",
		MaxSessions:           64,
		NotificationBuffer:    16,
		FailureThreshold:      3,
		DefaultStrategy:       "notification",
		ServiceName:           "vitals",
		SimulatedLatencyMinMS: 0,
		SimulatedLatencyMaxMS: 0,
	}
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// SimulatedLatency returns the latency bounds for the bundled store.
func (c *Config) SimulatedLatency() (time.Duration, time.Duration) {
	return time.Duration(c.SimulatedLatencyMinMS) * time.Millisecond,
		time.Duration(c.SimulatedLatencyMaxMS) * time.Millisecond
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrUnknownTimezone, c.Timezone, err)
	}
	return loc, nil
}
