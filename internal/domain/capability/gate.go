// Package capability answers whether a metric kind may be read right now and
// forwards authorization requests to the permission provider.
package capability

import (
	"context"
	"fmt"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Status is the permission state of one kind.
type Status int

const (
	StatusNotYetRequested Status = iota
	StatusGranted
	StatusDeniedOrUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusNotYetRequested:
		return "not_yet_requested"
	default:
		return "denied_or_unavailable"
	}
}

// Provider is the external permission collaborator.
type Provider interface {
	// Available reports whether the health store exists on this host.
	Available(ctx context.Context) bool
	Status(ctx context.Context, kind metric.Kind) (Status, error)
	RequestAuthorization(ctx context.Context, write, read []metric.Kind) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate wraps a Provider. It never caches a status: grants can change
// between calls.
type Gate struct {
	provider Provider
	logger   logger.Logger
	requests singleflight.Group
}

// NewGate creates a gate over p.
func NewGate(p Provider, opts ...Option) *Gate {
	g := &Gate{
		provider: p,
		logger:   logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("capability")
	return g
}

// Available returns ErrUnavailable when the store is absent.
func (g *Gate) Available(ctx context.Context) error {
	if !g.provider.Available(ctx) {
		return ErrUnavailable
	}
	return nil
}

// Status returns the provider's current status for kind.
func (g *Gate) Status(ctx context.Context, kind metric.Kind) (Status, error) {
	if !g.provider.Available(ctx) {
		metrics.RecordCapabilityCheck(string(kind), metrics.OutcomeUnavailable)
		return StatusDeniedOrUnavailable, ErrUnavailable
	}
	st, err := g.provider.Status(ctx, kind)
	if err != nil {
		metrics.RecordCapabilityCheck(string(kind), metrics.OutcomeQueryFailed)
		return StatusDeniedOrUnavailable, fmt.Errorf("capability status %s: %w", kind, err)
	}
	metrics.RecordCapabilityCheck(string(kind), st.String())
	return st, nil
}

// CheckStatus reports whether kind can be read now. A kind that was never
// requested fails with ErrNeedsAuthorizationRequest; a denied kind is
// simply false.
func (g *Gate) CheckStatus(ctx context.Context, kind metric.Kind) (bool, error) {
	st, err := g.Status(ctx, kind)
	if err != nil {
		return false, err
	}
	switch st {
	case StatusGranted:
		return true, nil
	case StatusNotYetRequested:
		return false, fmt.Errorf("%s: %w", kind, ErrNeedsAuthorizationRequest)
	default:
		return false, nil
	}
}

// RequestAuthorization asks the provider for write and read access.
// Concurrent requests for the same sets share one provider call.
func (g *Gate) RequestAuthorization(ctx context.Context, write, read []metric.Kind) error {
	if len(write) == 0 && len(read) == 0 {
		metrics.RecordAuthorizationRequest(metrics.OutcomeInvalid)
		return ErrInvalidParameters
	}
	wkey, err := canonical(write)
	if err != nil {
		metrics.RecordAuthorizationRequest(metrics.OutcomeInvalid)
		return err
	}
	rkey, err := canonical(read)
	if err != nil {
		metrics.RecordAuthorizationRequest(metrics.OutcomeInvalid)
		return err
	}
	if !g.provider.Available(ctx) {
		metrics.RecordAuthorizationRequest(metrics.OutcomeUnavailable)
		return ErrUnavailable
	}

	// The shared call must not inherit one waiter's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := g.requests.DoChan("w="+wkey+";r="+rkey, func() (any, error) {
		return nil, g.provider.RequestAuthorization(detached, write, read)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.RecordAuthorizationRequest(metrics.OutcomeDenied)
			g.logger.Warn(ctx, "authorization request failed",
				logger.String("write", wkey), logger.String("read", rkey), logger.Error(res.Err))
			return fmt.Errorf("%w: %w", ErrRequestDenied, res.Err)
		}
		metrics.RecordAuthorizationRequest(metrics.OutcomeOK)
		g.logger.Info(ctx, "authorization granted",
			logger.String("write", wkey), logger.String("read", rkey), logger.Bool("shared", res.Shared))
		return nil
	}
}

func canonical(kinds []metric.Kind) (string, error) {
	if len(kinds) == 0 {
		return "", nil
	}
	key, err := metric.NewObservationKey(kinds...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return key.String(), nil
}
