// Package service wires the aggregation and observation components into a
// single engine that the HTTP layer and the CLI drive.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/vitals/internal/adapters/mq/queue"
	"github.com/okian/vitals/internal/adapters/mq/worker"
	"github.com/okian/vitals/internal/domain/aggregate"
	"github.com/okian/vitals/internal/domain/anchor"
	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/fetch"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/internal/domain/workout"
	"github.com/okian/vitals/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultFetchTimeout = 10 * time.Second

// DataSource is the health store the engine reads from. It answers
// statistic queries and pushes change notifications.
type DataSource interface {
	fetch.Source
	observe.Feed
}

// Ingester is implemented by data sources that accept new samples.
type Ingester interface {
	Add(ctx context.Context, samples ...model.Sample) error
}

// Engine owns the capability gate, the fetch and aggregate pipeline, the
// anchor store and the observer.
type Engine struct {
	mu sync.RWMutex

	source     DataSource
	kv         anchor.KV
	gate       *capability.Gate
	fetcher    *fetch.Fetcher
	aggregator *aggregate.Aggregator
	anchors    *anchor.Store
	observer   *observe.Observer
	workouts   *workout.Finder

	loc          *time.Location
	fetchTimeout time.Duration
	concurrency  int
	maxSessions  int
	buffer       int
	threshold    int
	strategy     observe.Strategy
	keyPrefix    string
	now          func() time.Time
	tracer       trace.Tracer
	logger       logger.Logger

	startedAt    time.Time
	aggregations atomic.Int64
	closed       atomic.Bool
}

// New builds an engine over source, with perms answering permission
// questions and kv persisting anchors.
func New(source DataSource, perms capability.Provider, kv anchor.KV, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		kv:           kv,
		loc:          time.Local,
		fetchTimeout: defaultFetchTimeout,
		strategy:     observe.StrategyNotification,
		now:          time.Now,
		tracer:       otel.Tracer("github.com/okian/vitals"),
		logger:       logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")

	e.gate = capability.NewGate(perms, capability.WithLogger(e.logger))
	e.fetcher = fetch.New(source, e.gate,
		fetch.WithTimeout(e.fetchTimeout),
		fetch.WithLogger(e.logger),
	)
	e.aggregator = aggregate.New(e.fetcher, e.gate,
		aggregate.WithConcurrency(e.concurrency),
		aggregate.WithLogger(e.logger),
		aggregate.WithTracer(e.tracer),
	)
	e.workouts = workout.NewFinder(e.fetcher,
		workout.WithConcurrency(e.concurrency),
		workout.WithLogger(e.logger),
	)
	e.anchors = anchor.NewStore(kv,
		anchor.WithKeyPrefix(e.keyPrefix),
		anchor.WithLogger(e.logger),
		anchor.WithClock(e.now),
	)

	obsOpts := []observe.Option{
		observe.WithLogger(e.logger),
		observe.WithTracer(e.tracer),
		observe.WithLocation(e.loc),
		observe.WithClock(e.now),
		observe.WithMaxSessions(e.maxSessions),
		observe.WithDefaultStrategy(e.strategy),
	}
	if e.buffer > 0 {
		obsOpts = append(obsOpts, observe.WithBufferSize(e.buffer))
	}
	if e.threshold > 0 {
		obsOpts = append(obsOpts, observe.WithFailureThreshold(e.threshold))
	}
	if c, ok := source.(observe.Cursor); ok {
		obsOpts = append(obsOpts, observe.WithCursor(c))
	}
	e.observer = observe.New(e.gate, e.aggregator, source, e.anchors, e.sessionPipeline, obsOpts...)

	e.startedAt = e.now()
	e.logger.Info(context.Background(), "engine ready",
		logger.String("location", e.loc.String()),
		logger.String("strategy", string(e.strategy)),
		logger.Int("max_sessions", e.maxSessions),
	)
	return e
}

// Location returns the zone that defines calendar days.
func (e *Engine) Location() *time.Location { return e.loc }

// Aggregate builds one composite record for kinds over w.
func (e *Engine) Aggregate(ctx context.Context, kinds []metric.Kind, w metric.Window) (metric.CompositeRecord, error) {
	if e.closed.Load() {
		return metric.CompositeRecord{}, ErrClosed
	}
	e.aggregations.Add(1)
	rec, err := e.aggregator.Aggregate(ctx, kinds, w)
	if err != nil {
		return metric.CompositeRecord{}, fmt.Errorf("aggregate: %w", err)
	}
	return rec, nil
}

// AggregateDay aggregates kinds over the calendar day containing day.
func (e *Engine) AggregateDay(ctx context.Context, kinds []metric.Kind, day time.Time) (metric.CompositeRecord, error) {
	return e.Aggregate(ctx, kinds, metric.DayWindow(day, e.loc))
}

// Today aggregates kinds over the current calendar day.
func (e *Engine) Today(ctx context.Context, kinds []metric.Kind) (metric.CompositeRecord, error) {
	return e.AggregateDay(ctx, kinds, e.now())
}

// Workouts lists the workouts that started on the calendar day containing
// day, newest first. No activities means every activity.
func (e *Engine) Workouts(ctx context.Context, day time.Time, activities ...workout.Activity) ([]workout.Workout, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	ctx, span := e.tracer.Start(ctx, "workouts")
	defer span.End()
	found, err := e.workouts.Find(ctx, metric.DayWindow(day, e.loc), activities...)
	if err != nil {
		return nil, fmt.Errorf("workouts: %w", err)
	}
	return found, nil
}

// StartObserving begins, or joins, the observation session for kinds.
func (e *Engine) StartObserving(ctx context.Context, kinds []metric.Kind, cb observe.Callback, opts ...observe.StartOption) (*observe.Session, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.observer.Start(ctx, kinds, cb, opts...)
}

// OpenObservation is StartObserving that also reports whether this call
// created the session.
func (e *Engine) OpenObservation(ctx context.Context, kinds []metric.Kind, cb observe.Callback, opts ...observe.StartOption) (*observe.Session, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}
	return e.observer.Open(ctx, kinds, cb, opts...)
}

// StopObserving ends the session with id.
func (e *Engine) StopObserving(ctx context.Context, id string, opts ...observe.StopOption) error {
	s, ok := e.observer.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", observe.ErrSessionNotFound, id)
	}
	return s.Stop(ctx, opts...)
}

// RestartObserving resumes a degraded session.
func (e *Engine) RestartObserving(ctx context.Context, id string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	s, ok := e.observer.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", observe.ErrSessionNotFound, id)
	}
	return s.Restart(ctx)
}

// Session returns the live session with id.
func (e *Engine) Session(id string) (*observe.Session, bool) {
	return e.observer.Session(id)
}

// Lookup returns the live session observing kinds, if any.
func (e *Engine) Lookup(kinds []metric.Kind) (*observe.Session, bool) {
	return e.observer.Lookup(kinds)
}

// Sessions returns every live session.
func (e *Engine) Sessions() []*observe.Session {
	return e.observer.Sessions()
}

// RequestAuthorization prompts for access to write and read kinds.
func (e *Engine) RequestAuthorization(ctx context.Context, write, read []metric.Kind) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.gate.RequestAuthorization(ctx, write, read)
}

// Status returns kind's permission state.
func (e *Engine) Status(ctx context.Context, kind metric.Kind) (capability.Status, error) {
	return e.gate.Status(ctx, kind)
}

// Available reports whether the data source can be reached.
func (e *Engine) Available(ctx context.Context) error {
	return e.gate.Available(ctx)
}

// Ingest adds samples to the data source, when it accepts them.
func (e *Engine) Ingest(ctx context.Context, samples ...model.Sample) error {
	if e.closed.Load() {
		return ErrClosed
	}
	in, ok := e.source.(Ingester)
	if !ok {
		return ErrIngestUnsupported
	}
	return in.Add(ctx, samples...)
}

// sessionPipeline gives every session a bounded queue drained by a single
// worker.
func (e *Engine) sessionPipeline(capacity int, handle observe.HandleFunc) (observe.Mailbox, observe.Deliverer) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(capacity))
	w := worker.NewInMemoryWorker(q, worker.HandlerFunc(handle),
		worker.WithName("session"), worker.WithLogger(e.logger))
	return q, w
}

// ClearAnchor forgets the persisted anchor for kinds.
func (e *Engine) ClearAnchor(ctx context.Context, kinds []metric.Kind) error {
	key, err := metric.NewObservationKey(kinds...)
	if err != nil {
		return err
	}
	return e.anchors.Clear(ctx, key)
}

// GetStats returns a snapshot of engine state.
func (e *Engine) GetStats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	states := make(map[string]int)
	sessions := e.observer.Sessions()
	for _, s := range sessions {
		states[s.State().String()]++
	}
	keys := e.observer.Keys()
	return map[string]interface{}{
		"uptime_seconds":   e.now().Sub(e.startedAt).Seconds(),
		"location":         e.loc.String(),
		"default_strategy": string(e.strategy),
		"sessions":         len(sessions),
		"session_states":   states,
		"keys":             keys,
		"max_sessions":     e.maxSessions,
		"aggregations":     e.aggregations.Load(),
		"closed":           e.closed.Load(),
	}
}

// Close stops every session and releases the anchor store. It is safe to
// call more than once.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info(ctx, "closing engine")
	var errs []error
	if err := e.observer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observer: %w", err))
	}
	if c, ok := e.kv.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("anchor store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Error(ctx, "engine closed with errors", logger.Error(err))
		return err
	}
	e.logger.Info(ctx, "engine closed")
	return nil
}
