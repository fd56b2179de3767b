package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/vitals/internal/samplegen"
)

// Default configuration constants.
const (
	defaultDays        = 7
	defaultSlots       = 48
	defaultBatch       = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultManualRatio = 0.1
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	observeWindow      = 5 * time.Second
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		days      = flag.Int("days", defaultDays, "Days of history to generate, ending today")
		slots     = flag.Int("slots", defaultSlots, "Samples per kind per day")
		batch     = flag.Int("batch", defaultBatch, "Samples per request")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent submitters")
		manual    = flag.Float64("manual", defaultManualRatio, "Share of step samples flagged as user-entered")
		seed      = flag.Uint64("seed", 1, "Generator seed")
		observe   = flag.Bool("observe", true, "Watch step count while submitting")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFormat = flag.String("log-format", "text", "text or json")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		samplegen.ShowHelp()
		return
	}

	if err := samplegen.SetupLogging(*logFormat, *verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &samplegen.Config{
		BaseURL:       *baseURL,
		Days:          *days,
		SlotsPerDay:   *slots,
		BatchSize:     *batch,
		Workers:       *workers,
		Timeout:       *timeout,
		ManualRatio:   *manual,
		Seed:          *seed,
		Observe:       *observe,
		ObserveWindow: observeWindow,
		Verbose:       *verbose,
	}

	if _, err := samplegen.Run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("Run failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called above
	}
}
