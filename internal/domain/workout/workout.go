// Package workout lists a day's workout sessions, optionally filtered by
// activity, together with the statistics recorded while each one ran.
package workout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Activity is the kind of exercise a workout records.
type Activity string

// Known activities. Each is a category of metric.Workout.
const (
	Walking                    Activity = "walking"
	Running                    Activity = "running"
	Cycling                    Activity = "cycling"
	Yoga                       Activity = "yoga"
	Swimming                   Activity = "swimming"
	Rowing                     Activity = "rowing"
	FunctionalStrengthTraining Activity = "functional_strength_training"
	Climbing                   Activity = "climbing"
	Dance                      Activity = "dance"
	Hiking                     Activity = "hiking"
)

// Activities returns every known activity in table order.
func Activities() []Activity {
	out := make([]Activity, len(metric.WorkoutActivities))
	for i, a := range metric.WorkoutActivities {
		out[i] = Activity(a)
	}
	return out
}

// ParseActivity accepts snake_case or kebab-case names, case-insensitive.
func ParseActivity(s string) (Activity, error) {
	a := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if !slices.Contains(metric.WorkoutActivities, a) {
		return "", fmt.Errorf("%w: %q", ErrUnknownActivity, s)
	}
	return Activity(a), nil
}

// Workout is one recorded session. Statistics are nil when nothing was
// recorded for them or they could not be read.
type Workout struct {
	ID               string
	Activity         Activity
	Start            time.Time
	End              time.Time
	DurationMinutes  float64
	DistanceMeters   *float64
	ActiveCalories   *float64
	AverageHeartRate *float64
	Steps            *float64
}

// Fetcher reads raw samples and reduced readings. Both run the capability
// pre-check before touching the source.
type Fetcher interface {
	Samples(ctx context.Context, kind metric.Kind, w metric.Window) ([]model.Sample, error)
	Fetch(ctx context.Context, kind metric.Kind, w metric.Window) (metric.Reading, error)
}

// Option configures a Finder.
type Option func(*Finder)

// WithLogger sets the finder's logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Finder) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithConcurrency caps statistic reads in flight per call. Zero means no cap.
func WithConcurrency(n int) Option {
	return func(f *Finder) {
		if n >= 0 {
			f.limit = n
		}
	}
}

// Finder answers workout queries.
type Finder struct {
	fetcher Fetcher
	limit   int
	logger  logger.Logger
}

// NewFinder creates a finder.
func NewFinder(f Fetcher, opts ...Option) *Finder {
	fd := &Finder{fetcher: f, logger: logger.GetOrNop()}
	for _, opt := range opts {
		opt(fd)
	}
	fd.logger = fd.logger.Named("workouts")
	return fd
}

// stat is one per-workout statistic and the kind it is read from.
type stat struct {
	kind metric.Kind
	set  func(w *Workout, v float64)
}

var stats = []stat{
	{metric.DistanceWalkingRunning, func(w *Workout, v float64) { w.DistanceMeters = &v }},
	{metric.ActiveEnergyBurned, func(w *Workout, v float64) { w.ActiveCalories = &v }},
	{metric.HeartRate, func(w *Workout, v float64) { r := math.Round(v); w.AverageHeartRate = &r }},
	{metric.StepCount, func(w *Workout, v float64) { w.Steps = &v }},
}

// Find returns the workouts that started in w, newest first. With no
// activities every known activity matches.
//
// Errors: ErrUnknownActivity, fetch.ErrUnauthorized when workouts
// themselves may not be read, capability.ErrUnavailable, and any query
// failure of the workout read. Statistic failures only leave the
// statistic nil.
func (f *Finder) Find(ctx context.Context, w metric.Window, activities ...Activity) ([]Workout, error) {
	want := make(map[Activity]struct{}, len(activities))
	for _, a := range activities {
		if !slices.Contains(metric.WorkoutActivities, string(a)) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, a)
		}
		want[a] = struct{}{}
	}

	samples, err := f.fetcher.Samples(ctx, metric.Workout, w)
	if err != nil {
		return nil, err
	}
	out := make([]Workout, 0, len(samples))
	for _, smp := range samples {
		a := Activity(smp.Category)
		if !slices.Contains(metric.WorkoutActivities, smp.Category) {
			continue
		}
		if _, ok := want[a]; len(want) > 0 && !ok {
			continue
		}
		out = append(out, Workout{
			ID:              smp.ID,
			Activity:        a,
			Start:           smp.Start,
			End:             smp.End,
			DurationMinutes: smp.Duration().Minutes(),
		})
	}
	slices.SortStableFunc(out, func(a, b Workout) int { return b.Start.Compare(a.Start) })

	g, gctx := errgroup.WithContext(ctx)
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}
	for i := range out {
		span, err := metric.NewWindow(out[i].Start, out[i].End, false)
		if err != nil {
			continue
		}
		for _, st := range stats {
			// Each task writes only its own field of out[i].
			g.Go(func() error {
				f.fill(gctx, &out[i], st, span)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.logger.Debug(ctx, "workouts found",
		logger.String("window", w.String()),
		logger.Int("count", len(out)),
	)
	return out, nil
}

func (f *Finder) fill(ctx context.Context, wk *Workout, st stat, span metric.Window) {
	r, err := f.fetcher.Fetch(ctx, st.kind, span)
	if err != nil {
		if !errors.Is(err, capability.ErrUnavailable) && ctx.Err() == nil {
			f.logger.Warn(ctx, "workout statistic not read",
				logger.String("workout", wk.ID),
				logger.String("kind", string(st.kind)),
				logger.Error(err))
		}
		return
	}
	if v, ok := r.Float(); ok {
		st.set(wk, v)
	}
}
