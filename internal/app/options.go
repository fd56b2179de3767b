package service

import (
	"time"

	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine and its components.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithFetchTimeout bounds each per-kind query.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithFetchConcurrency caps in-flight fetches per aggregation. Zero means no cap.
func WithFetchConcurrency(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.concurrency = n
		}
	}
}

// WithMaxSessions caps live observation sessions. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxSessions = n
		}
	}
}

// WithNotificationBuffer sets each session's queue capacity.
func WithNotificationBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// WithFailureThreshold sets how many consecutive failures degrade a session.
func WithFailureThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithDefaultStrategy sets the observation strategy used when none is given.
func WithDefaultStrategy(s observe.Strategy) Option {
	return func(e *Engine) {
		if s != "" {
			e.strategy = s
		}
	}
}

// WithAnchorKeyPrefix namespaces persisted anchors.
func WithAnchorKeyPrefix(prefix string) Option {
	return func(e *Engine) {
		e.keyPrefix = prefix
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer sets the tracer handed to the aggregator and observer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}
