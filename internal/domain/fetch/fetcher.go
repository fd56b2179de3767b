// Package fetch runs one metric kind's query against the data source and
// reduces the result according to the kind's aggregation mode.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

const defaultTimeout = 5 * time.Second

// latestFloor bounds latest-sample lookups that reach back before the window.
var latestFloor = time.Unix(0, 0).UTC()

// Source is the data source collaborator.
type Source interface {
	QueryStatistic(ctx context.Context, q model.Query) (model.Result, error)
}

// Checker is the pre-flight capability check.
type Checker interface {
	CheckStatus(ctx context.Context, kind metric.Kind) (bool, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the fetcher's logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher executes single-kind queries.
type Fetcher struct {
	source  Source
	gate    Checker
	timeout time.Duration
	logger  logger.Logger
}

// New creates a fetcher.
func New(source Source, gate Checker, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:  source,
		gate:    gate,
		timeout: defaultTimeout,
		logger:  logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("fetcher")
	return f
}

// Fetch returns kind's reduced reading over w. A zero Reading means no data.
//
// Errors: ErrUnauthorized when the capability check does not pass (no query
// is made), capability.ErrUnavailable when the store is absent,
// ErrQueryFailed for source errors, timeouts and bad units, and the
// context's error when ctx itself is done.
func (f *Fetcher) Fetch(ctx context.Context, kind metric.Kind, w metric.Window) (metric.Reading, error) {
	profile, ok := metric.Lookup(kind)
	if !ok {
		return metric.Reading{}, fmt.Errorf("%w: %w", ErrQueryFailed, metric.ErrUnknownKind)
	}
	started := time.Now()

	res, err := f.query(ctx, profile, f.window(profile, w), w.ExcludeManual && !profile.KeepManual)
	if err != nil {
		f.record(kind, err, started)
		return metric.Reading{}, err
	}
	reading, err := Reduce(profile, res)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrQueryFailed, kind, err)
		f.record(kind, err, started)
		return metric.Reading{}, err
	}

	outcome := metrics.OutcomeOK
	if !reading.Present() {
		outcome = metrics.OutcomeAbsent
	}
	metrics.RecordFetch(string(kind), outcome, msSince(started))
	f.logger.Debug(ctx, "fetched",
		logger.String("kind", string(kind)),
		logger.String("window", w.String()),
		logger.Int("samples", len(res.Samples)),
		logger.Bool("present", reading.Present()),
	)
	return reading, nil
}

// ActiveMinutes sums the durations of kind's samples over w in minutes.
// It runs as its own query so the aggregator can schedule it separately.
func (f *Fetcher) ActiveMinutes(ctx context.Context, kind metric.Kind, w metric.Window) (*float64, error) {
	profile, ok := metric.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, metric.ErrUnknownKind)
	}
	res, err := f.query(ctx, profile, w, w.ExcludeManual && !profile.KeepManual)
	if err != nil {
		return nil, err
	}
	return activeMinutes(res.Samples), nil
}

// Samples returns kind's raw samples over w, most recent first. The same
// capability check as Fetch runs before the query.
func (f *Fetcher) Samples(ctx context.Context, kind metric.Kind, w metric.Window) ([]model.Sample, error) {
	profile, ok := metric.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, metric.ErrUnknownKind)
	}
	started := time.Now()

	res, err := f.query(ctx, profile, w, w.ExcludeManual && !profile.KeepManual)
	if err != nil {
		f.record(kind, err, started)
		return nil, err
	}
	out := slices.Clone(res.Samples)
	slices.SortStableFunc(out, func(a, b model.Sample) int { return b.Start.Compare(a.Start) })

	outcome := metrics.OutcomeOK
	if len(out) == 0 {
		outcome = metrics.OutcomeAbsent
	}
	metrics.RecordFetch(string(kind), outcome, msSince(started))
	return out, nil
}

func (f *Fetcher) window(profile metric.Profile, w metric.Window) metric.Window {
	switch {
	case profile.SleepSpan:
		return metric.SleepWindow(w)
	case profile.Mode == metric.ModeLatest:
		return metric.Window{Start: latestFloor, End: w.End, ExcludeManual: w.ExcludeManual}
	default:
		return w
	}
}

func (f *Fetcher) query(ctx context.Context, profile metric.Profile, w metric.Window, excludeManual bool) (model.Result, error) {
	ok, err := f.gate.CheckStatus(ctx, profile.Kind)
	if err != nil {
		if errors.Is(err, capability.ErrUnavailable) {
			return model.Result{}, err
		}
		return model.Result{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !ok {
		return model.Result{}, fmt.Errorf("%w: %s denied", ErrUnauthorized, profile.Kind)
	}

	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.source.QueryStatistic(qctx, model.Query{
		Kind:          profile.Kind,
		Window:        w,
		Mode:          profile.Mode,
		ExcludeManual: excludeManual,
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.Result{}, ctx.Err()
		}
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return model.Result{}, fmt.Errorf("%w: %s after %s: %w", ErrQueryFailed, profile.Kind, f.timeout, ErrTimeout)
		}
		return model.Result{}, fmt.Errorf("%w: %s: %w", ErrQueryFailed, profile.Kind, err)
	}
	if excludeManual {
		res.Samples = filterManual(res.Samples)
	}
	return res, nil
}

func (f *Fetcher) record(kind metric.Kind, err error, started time.Time) {
	outcome := metrics.OutcomeQueryFailed
	switch {
	case errors.Is(err, ErrUnauthorized):
		outcome = metrics.OutcomeUnauthorized
	case errors.Is(err, ErrTimeout):
		outcome = metrics.OutcomeTimeout
	case errors.Is(err, capability.ErrUnavailable):
		outcome = metrics.OutcomeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCancelled
	}
	metrics.RecordFetch(string(kind), outcome, msSince(started))
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
