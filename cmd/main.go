package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/vitals/internal/adapters/healthstore"
	"github.com/okian/vitals/internal/adapters/http/api"
	"github.com/okian/vitals/internal/adapters/http/swagger"
	"github.com/okian/vitals/internal/adapters/repository"
	service "github.com/okian/vitals/internal/app"
	"github.com/okian/vitals/internal/config"
	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/internal/telemetry"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Our own system gauges replace the default Go collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> dotenv -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, version, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	engine, err := buildEngine(ctx, cfg, log)
	if err != nil {
		return err
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, engine, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("version", version),
			logger.String("anchor_backend", cfg.AnchorBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := engine.Close(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "engine shutdown failed", logger.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "tracing shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return runErr
}

// buildEngine opens the anchor store and wires the engine to the bundled
// in-memory health store.
func buildEngine(ctx context.Context, cfg *config.Config, log logger.Logger) (*service.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}
	strategy, err := observe.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		return nil, fmt.Errorf("invalid default strategy: %w", err)
	}

	kv, err := repository.Open(ctx, cfg.AnchorBackend, cfg.AnchorPath, repository.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open anchor store: %w", err)
	}

	storeOpts := []healthstore.Option{healthstore.WithLogger(log)}
	if minLatency, maxLatency := cfg.SimulatedLatency(); maxLatency > 0 {
		storeOpts = append(storeOpts, healthstore.WithLatencyRange(minLatency, maxLatency))
	}
	if cfg.GrantAll {
		storeOpts = append(storeOpts, healthstore.WithGrantAll())
	}
	store := healthstore.New(storeOpts...)

	return service.New(store, store, kv,
		service.WithLogger(log),
		service.WithLocation(loc),
		service.WithFetchTimeout(cfg.FetchTimeout()),
		service.WithFetchConcurrency(cfg.MaxFetchConcurrency),
		service.WithMaxSessions(cfg.MaxSessions),
		service.WithNotificationBuffer(cfg.NotificationBuffer),
		service.WithFailureThreshold(cfg.FailureThreshold),
		service.WithDefaultStrategy(strategy),
		service.WithAnchorKeyPrefix(cfg.AnchorKeyPrefix),
		service.WithTracer(telemetry.Tracer("vitals/engine")),
	), nil
}

// newMux registers the business API and the API docs.
func newMux(ctx context.Context, engine *service.Engine, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(engine, api.WithLogger(log)).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
