package samplegen

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/okian/vitals/pkg/logger"
)

// SetupLogging initializes the global logger for the CLI.
func SetupLogging(format string, verbose bool) error {
	if err := logger.Init(logger.WithFormat(format)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		logger.SetLevel(slog.LevelDebug)
	}
	return nil
}

// ShowHelp prints usage information for the sample generator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`vitals sample generator
=======================

Generates synthetic health samples, submits them to a running vitals
server, and checks the server's step total against the generated data.

Usage:
  go run ./cmd/samplegen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -days int
        Days of history to generate, ending today (default 7)
  -slots int
        Samples per kind per day (default 48)
  -batch int
        Samples per request (default 200)
  -workers int
        Concurrent submitters (default CPU cores * 2)
  -manual float
        Share of step samples flagged as user-entered (default 0.1)
  -seed uint
        Generator seed (default 1)
  -observe
        Watch step count while submitting (default true)
  -timeout duration
        HTTP request timeout (default 30s)
  -log-format string
        text or json (default "text")
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/samplegen -days 30 -slots 96
  go run ./cmd/samplegen -url http://localhost:8080 -observe=false
`)
}
