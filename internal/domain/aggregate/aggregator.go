// Package aggregate fans out per-kind fetches for a window and merges them
// into one composite record.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/fetch"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Fetcher runs one kind's query.
type Fetcher interface {
	Fetch(ctx context.Context, kind metric.Kind, w metric.Window) (metric.Reading, error)
	ActiveMinutes(ctx context.Context, kind metric.Kind, w metric.Window) (*float64, error)
}

// Availability reports whether the data source exists at all.
type Availability interface {
	Available(ctx context.Context) error
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the aggregator's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithConcurrency caps in-flight fetch tasks per call. Zero means no cap.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.limit = n
		}
	}
}

// WithTracer overrides the tracer used for aggregate and fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Aggregator) {
		if t != nil {
			a.tracer = t
		}
	}
}

// Aggregator is stateless between calls; every Aggregate is a fresh fan-out.
type Aggregator struct {
	fetcher Fetcher
	gate    Availability
	limit   int
	logger  logger.Logger
	tracer  trace.Tracer
}

// New creates an aggregator.
func New(f Fetcher, gate Availability, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher: f,
		gate:    gate,
		logger:  logger.GetOrNop(),
		tracer:  otel.Tracer("vitals/aggregate"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("aggregator")
	return a
}

// Aggregate returns a record holding exactly the requested kinds. A kind
// whose fetch is unauthorized, fails or times out is left absent.
//
// Errors: ErrInvalidParameters for an empty or unknown kind set,
// capability.ErrUnavailable when the store is absent, ErrCancelled when ctx
// ends before every task finished.
func (a *Aggregator) Aggregate(ctx context.Context, kinds []metric.Kind, w metric.Window) (metric.CompositeRecord, error) {
	started := time.Now()
	kinds, err := normalize(kinds)
	if err != nil {
		metrics.RecordAggregation(metrics.OutcomeInvalid, msSince(started))
		return metric.CompositeRecord{}, err
	}
	if !w.Start.Before(w.End) {
		metrics.RecordAggregation(metrics.OutcomeInvalid, msSince(started))
		return metric.CompositeRecord{}, fmt.Errorf("%w: %w", ErrInvalidParameters, metric.ErrInvalidWindow)
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordAggregation(metrics.OutcomeCancelled, msSince(started))
		return metric.CompositeRecord{}, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	ctx, span := a.tracer.Start(ctx, "aggregate", trace.WithAttributes(
		attribute.Int("vitals.kinds", len(kinds)),
		attribute.String("vitals.window", w.String()),
	))
	defer span.End()

	if err := a.gate.Available(ctx); err != nil {
		metrics.RecordAggregation(metrics.OutcomeUnavailable, msSince(started))
		span.SetStatus(codes.Error, err.Error())
		return metric.CompositeRecord{}, err
	}

	readings := make([]metric.Reading, len(kinds))
	minutes := make([]*float64, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i, k := range kinds {
		g.Go(func() error {
			r, err := a.fetch(gctx, k, w)
			if err != nil {
				return err
			}
			readings[i] = r
			return nil
		})
		if profile, _ := metric.Lookup(k); profile.ActiveMinutes {
			g.Go(func() error {
				m, err := a.activeMinutes(gctx, k, w)
				if err != nil {
					return err
				}
				minutes[i] = m
				return nil
			})
		}
	}

	err = g.Wait()
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		metrics.RecordAggregation(metrics.OutcomeCancelled, msSince(started))
		return metric.CompositeRecord{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordAggregation(metrics.OutcomeUnavailable, msSince(started))
		return metric.CompositeRecord{}, err
	}

	merged := make(map[metric.Kind]metric.Reading, len(kinds))
	present := 0
	for i, k := range kinds {
		r := readings[i]
		r.ActiveMinutes = minutes[i]
		merged[k] = r
		if r.Present() {
			present++
		}
	}
	rec := metric.NewCompositeRecord(w, kinds, merged)

	metrics.RecordAggregation(metrics.OutcomeOK, msSince(started))
	span.SetAttributes(attribute.Int("vitals.present", present))
	a.logger.Debug(ctx, "aggregated",
		logger.Int("kinds", len(kinds)),
		logger.Int("present", present),
		logger.Duration("took", time.Since(started)),
	)
	return rec, nil
}

// fetch returns an error only for conditions that must abort the whole call:
// cancellation and an absent store. Everything else becomes an absent slot.
func (a *Aggregator) fetch(ctx context.Context, k metric.Kind, w metric.Window) (metric.Reading, error) {
	ctx, span := a.tracer.Start(ctx, "fetch", trace.WithAttributes(attribute.String("vitals.kind", string(k))))
	defer span.End()

	r, err := a.fetcher.Fetch(ctx, k, w)
	if err == nil {
		span.SetAttributes(attribute.Bool("vitals.present", r.Present()))
		return r, nil
	}
	if fatal(ctx, err) {
		return metric.Reading{}, err
	}
	a.absorb(ctx, span, k, err)
	return metric.Reading{}, nil
}

func (a *Aggregator) activeMinutes(ctx context.Context, k metric.Kind, w metric.Window) (*float64, error) {
	ctx, span := a.tracer.Start(ctx, "active_minutes", trace.WithAttributes(attribute.String("vitals.kind", string(k))))
	defer span.End()

	m, err := a.fetcher.ActiveMinutes(ctx, k, w)
	if err == nil {
		return m, nil
	}
	if fatal(ctx, err) {
		return nil, err
	}
	a.absorb(ctx, span, k, err)
	return nil, nil
}

func (a *Aggregator) absorb(ctx context.Context, span trace.Span, k metric.Kind, err error) {
	span.RecordError(err)
	if errors.Is(err, fetch.ErrUnauthorized) {
		a.logger.Debug(ctx, "kind skipped", logger.String("kind", string(k)), logger.Error(err))
		return
	}
	span.SetStatus(codes.Error, err.Error())
	metrics.RecordErrorByComponent("aggregate", "query_failed")
	a.logger.Warn(ctx, "kind query failed", logger.String("kind", string(k)), logger.Error(err))
}

func fatal(ctx context.Context, err error) bool {
	if errors.Is(err, capability.ErrUnavailable) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func normalize(kinds []metric.Kind) ([]metric.Kind, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no kinds", ErrInvalidParameters)
	}
	seen := make(map[metric.Kind]struct{}, len(kinds))
	out := make([]metric.Kind, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidParameters, metric.ErrUnknownKind, string(k))
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
