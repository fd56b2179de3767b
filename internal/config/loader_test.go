package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/vitals/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.AnchorBackend, convey.ShouldEqual, "memory")
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 64)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("VITALS_ADDR", ":8080")
			_ = os.Setenv("VITALS_TIMEZONE", "Europe/Berlin")
			_ = os.Setenv("VITALS_ANCHOR_BACKEND", "sqlite")
			_ = os.Setenv("VITALS_FAILURE_THRESHOLD", "5")
			_ = os.Setenv("VITALS_GRANT_ALL", "true")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Timezone, convey.ShouldEqual, "Europe/Berlin")
				convey.So(cfg.AnchorBackend, convey.ShouldEqual, "sqlite")
				convey.So(cfg.FailureThreshold, convey.ShouldEqual, 5)
				convey.So(cfg.GrantAll, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(t, "config.yaml", `
addr: ":9090"
default_strategy: cursor
max_sessions: 8
simulated_latency_min_ms: 60
simulated_latency_max_ms: 120
`)
			_ = os.Setenv("VITALS_CONFIG", tmpFile)
			_ = os.Setenv("VITALS_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.DefaultStrategy, convey.ShouldEqual, "cursor")
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 8)
				convey.So(cfg.SimulatedLatencyMaxMS, convey.ShouldEqual, 120)
				convey.So(cfg.FailureThreshold, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When a dotenv file is named", func() {
			dotenv := createTempConfigFile(t, "vitals.env", "VITALS_MAX_SESSIONS=3\nVITALS_LOG_FORMAT=json\n")
			_ = os.Setenv("VITALS_DOTENV", dotenv)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 3)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
			})
		})

		convey.Convey("When the named dotenv file is missing", func() {
			_ = os.Setenv("VITALS_DOTENV", "/non/existent/.env")

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, "bad.yaml", `invalid: yaml: content: [`)
			_ = os.Setenv("VITALS_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("VITALS_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("VITALS_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When values are out of range", func() {
			cases := map[string]string{
				"VITALS_ANCHOR_BACKEND":    "redis",
				"VITALS_DEFAULT_STRATEGY":  "polling",
				"VITALS_TIMEZONE":          "Mars/Olympus",
				"VITALS_FETCH_TIMEOUT_MS":  "0",
				"VITALS_FAILURE_THRESHOLD": "0",
				"VITALS_LOG_FORMAT":        "xml",
			}

			convey.Convey("Then each one is rejected", func() {
				for key, val := range cases {
					_ = os.Setenv(key, val)
					_, err := config.Load(ctx)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					_ = os.Unsetenv(key)
				}
			})
		})
	})
}

func createTempConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "VITALS_") {
			_ = os.Unsetenv(key)
		}
	}
}
