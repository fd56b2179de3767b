package samplegen

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/types"
	"github.com/okian/vitals/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	pollInterval = 50 * time.Millisecond
	tolerance    = 0.01
)

type readingView struct {
	Value *float64 `json:"value"`
}

type recordView struct {
	Values map[string]readingView `json:"values"`
}

// Run executes a complete generator run against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.GetOrNop().Named("samplegen")
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting sample run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("days", cfg.Days),
		logger.Int("slotsPerDay", cfg.SlotsPerDay),
		logger.Int("workers", cfg.Workers))

	if err := client.do(ctx, "GET", "/healthz", nil, nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	kinds := make([]string, 0, len(DefaultKinds))
	for _, k := range DefaultKinds {
		kinds = append(kinds, string(k))
	}
	if err := client.do(ctx, "POST", "/authorize", types.AuthorizeRequest{Read: kinds}, nil); err != nil {
		return stats, fmt.Errorf("authorization failed: %w", err)
	}

	var session types.Session
	if cfg.Observe {
		req := types.ObserveRequest{Kinds: []string{string(metric.StepCount)}}
		if err := client.do(ctx, "POST", "/observations", req, &session); err != nil {
			return stats, fmt.Errorf("start observation: %w", err)
		}
		log.Info(ctx, "observing step count", logger.String("session", session.ID))
	}

	batch := Generate(cfg, time.Now())
	stats.SamplesGenerated = len(batch.Samples)
	stats.ExpectedSteps = batch.Steps

	if err := submit(ctx, client, cfg, batch.Samples, stats); err != nil {
		return stats, err
	}

	got, err := aggregateSteps(ctx, client, batch)
	if err != nil {
		return stats, err
	}
	stats.AggregatedSteps = got

	if cfg.Observe {
		stats.Deliveries = waitForDelivery(ctx, client, session.ID, cfg.ObserveWindow)
		if err := client.do(ctx, "DELETE", "/observations/"+session.ID, nil, nil); err != nil {
			log.Warn(ctx, "failed to stop observation", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.BatchesFailed > 0 {
		return stats, fmt.Errorf("%d batches failed", stats.BatchesFailed)
	}
	if math.Abs(stats.AggregatedSteps-stats.ExpectedSteps) > tolerance {
		return stats, fmt.Errorf("%w: steps expected %.0f, server reported %.0f",
			ErrMismatch, stats.ExpectedSteps, stats.AggregatedSteps)
	}
	log.Info(ctx, "run completed successfully")
	return stats, nil
}

// submit posts samples in batches over cfg.Workers concurrent requests.
func submit(ctx context.Context, client *HTTPClient, cfg *Config, samples []types.SampleInput, stats *Stats) error {
	size := max(cfg.BatchSize, 1)
	var submitted, failed atomic.Int64
	log := logger.GetOrNop().Named("samplegen")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for start := 0; start < len(samples); start += size {
		chunk := samples[start:min(start+size, len(samples))]
		g.Go(func() error {
			err := client.do(gctx, "POST", "/samples", types.SamplesRequest{Items: chunk}, nil)
			if err != nil {
				failed.Add(1)
				log.Warn(gctx, "batch rejected", logger.Int("size", len(chunk)), logger.Error(err))
				return nil
			}
			submitted.Add(int64(len(chunk)))
			if cfg.Verbose {
				log.Info(gctx, "batch accepted", logger.Int("size", len(chunk)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sample submission failed: %w", err)
	}
	stats.SamplesSubmitted = int(submitted.Load())
	stats.BatchesFailed = int(failed.Load())
	return ctx.Err()
}

// aggregateSteps asks for steps over an explicit window covering every
// generated step sample. Explicit windows drop manual entries.
func aggregateSteps(ctx context.Context, client *HTTPClient, batch Batch) (float64, error) {
	q := url.Values{}
	q.Set("kinds", string(metric.StepCount))
	q.Set("start", batch.From.Format(time.RFC3339))
	q.Set("end", batch.To.Add(time.Second).Format(time.RFC3339))

	var rec recordView
	if err := client.do(ctx, "GET", "/aggregate?"+q.Encode(), nil, &rec); err != nil {
		return 0, fmt.Errorf("aggregate: %w", err)
	}
	r := rec.Values[string(metric.StepCount)]
	if r.Value == nil {
		return 0, nil
	}
	return *r.Value, nil
}

// waitForDelivery polls the session until it has delivered or window passes.
func waitForDelivery(ctx context.Context, client *HTTPClient, id string, window time.Duration) int {
	deadline := time.Now().Add(window)
	var s types.Session
	for {
		if err := client.do(ctx, "GET", "/observations/"+id, nil, &s); err == nil && s.Deliveries > 0 {
			return s.Deliveries
		}
		if time.Now().After(deadline) {
			return s.Deliveries
		}
		select {
		case <-ctx.Done():
			return s.Deliveries
		case <-time.After(pollInterval):
		}
	}
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.SamplesSubmitted) / stats.Duration.Seconds()
	}
	logger.GetOrNop().Info(ctx, "final statistics",
		logger.Int("samplesGenerated", stats.SamplesGenerated),
		logger.Int("samplesSubmitted", stats.SamplesSubmitted),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Float64("expectedSteps", stats.ExpectedSteps),
		logger.Float64("aggregatedSteps", stats.AggregatedSteps),
		logger.Int("deliveries", stats.Deliveries),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("samplesPerSecond", perSecond))
}
