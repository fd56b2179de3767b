package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// anchorWriteTimeout bounds an anchor write that outlives the session
// context.
const anchorWriteTimeout = 5 * time.Second

// StopOption configures Stop.
type StopOption func(*stopConfig)

type stopConfig struct {
	clearAnchor bool
}

// WithClearAnchor removes the key's persisted anchor, so the next session
// for the same kinds starts from scratch.
func WithClearAnchor() StopOption {
	return func(c *stopConfig) {
		c.clearAnchor = true
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string
	Key          metric.ObservationKey
	Strategy     Strategy
	State        State
	Granted      []metric.Kind
	Deliveries   int
	Failures     int
	HasAnchor    bool
	LastDelivery time.Time
	LastRecord   *metric.CompositeRecord
	LastError    error
}

// Session is the handle for one observation key.
type Session struct {
	observer *Observer
	id       string
	key      metric.ObservationKey
	strategy Strategy
	callback Callback

	mu           sync.Mutex
	state        State
	stopping     bool
	counted      bool
	granted      []metric.Kind
	anchor       []byte
	failures     int
	deliveries   int
	lastDelivery time.Time
	lastRecord   *metric.CompositeRecord
	lastErr      error
	cancel       context.CancelFunc
	mailbox      Mailbox
	worker       Deliverer
	err          error

	done     chan struct{}
	doneOnce sync.Once
}

func newSession(o *Observer, id string, key metric.ObservationKey, strategy Strategy, cb Callback) *Session {
	return &Session{
		observer: o,
		id:       id,
		key:      key,
		strategy: strategy,
		callback: cb,
		state:    StateStarting,
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) Key() metric.ObservationKey { return s.key }
func (s *Session) Kinds() []metric.Kind       { return s.key.Kinds() }
func (s *Session) Strategy() Strategy         { return s.strategy }

// Done is closed once the session is stopped for good.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session ended, or nil while it is live or after a
// plain Stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		Key:          s.key,
		Strategy:     s.strategy,
		State:        s.state,
		Granted:      slices.Clone(s.granted),
		Deliveries:   s.deliveries,
		Failures:     s.failures,
		HasAnchor:    len(s.anchor) > 0,
		LastDelivery: s.lastDelivery,
		LastRecord:   s.lastRecord,
		LastError:    s.lastErr,
	}
}

// Stop ends the session and frees its key. Deliveries already made are not
// retracted. A callback already running is allowed to return, and if it
// succeeds its anchor is written before Stop returns. Stopping a stopped
// session is a no-op.
func (s *Session) Stop(ctx context.Context, opts ...StopOption) error {
	var cfg stopConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	if s.state == StateStarting {
		// The starting goroutine sees stopping and tears the session down.
		s.mu.Unlock()
		select {
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("stop session %s: %w", s.id, ctx.Err())
		}
		return s.clearAnchor(ctx, cfg)
	}
	cancel, w, q := s.cancel, s.worker, s.mailbox
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if w != nil {
		if err := w.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if q != nil {
		_ = q.Close()
	}
	s.finish(ctx, nil)
	if err := s.clearAnchor(ctx, cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) clearAnchor(ctx context.Context, cfg stopConfig) error {
	if !cfg.clearAnchor {
		return nil
	}
	if err := s.observer.anchors.Clear(ctx, s.key); err != nil {
		return fmt.Errorf("stop session %s: %w", s.id, err)
	}
	return nil
}

// Restart resubscribes a degraded session.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return ErrSessionStopped
	case StateDegraded:
	default:
		s.mu.Unlock()
		return ErrNotDegraded
	}
	old, oldq := s.worker, s.mailbox
	s.setState(ctx, StateStarting)
	s.mu.Unlock()

	if old != nil {
		_ = old.Shutdown(ctx)
	}
	if oldq != nil {
		_ = oldq.Close()
	}
	err := s.observer.activate(ctx, s)
	if err == nil {
		s.observer.logger.Info(ctx, "session restarted", logger.String("session", s.id))
		return nil
	}

	s.mu.Lock()
	stopping := s.stopping
	if !stopping {
		s.lastErr = err
		s.setState(ctx, StateDegraded)
	}
	s.mu.Unlock()
	if stopping {
		s.finish(ctx, nil)
	}
	return err
}

// finish moves the session to Idle and releases its key. Safe to call twice.
func (s *Session) finish(ctx context.Context, cause error) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	counted := s.counted
	s.counted = false
	if s.err == nil {
		s.err = cause
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.setState(ctx, StateIdle)
	s.mu.Unlock()

	s.observer.sessions.Release(ctx, s.key.String(), s)
	if counted {
		metrics.AddActiveSessions(-1)
	}
	s.doneOnce.Do(func() { close(s.done) })
}

// setState must be called with mu held.
func (s *Session) setState(ctx context.Context, next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	metrics.RecordSessionTransition(next.String())
	s.observer.logger.Info(ctx, "session state changed",
		logger.String("session", s.id),
		logger.String("key", s.key.String()),
		logger.String("from", prev.String()),
		logger.String("to", next.String()),
	)
}

// pump moves feed notifications onto the session queue until ctx ends or
// the feed closes.
func (s *Session) pump(ctx context.Context, changes <-chan model.ChangeNotification, q Mailbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-changes:
			if !ok {
				s.observer.logger.Debug(ctx, "change feed closed", logger.String("session", s.id))
				return
			}
			q.Enqueue(ctx, n)
		}
	}
}

// handle processes one notification on the session's worker.
func (s *Session) handle(ctx context.Context, n model.ChangeNotification) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	metrics.RecordNotification(metrics.NotificationReceived)
	if n.Err != nil {
		return s.failed(ctx, n.Err)
	}

	s.mu.Lock()
	anchor, granted := s.anchor, s.granted
	s.mu.Unlock()

	token := n.Token
	if s.strategy == StrategyCursor {
		set, err := s.observer.cursor.ChangesSince(ctx, granted, anchor)
		if errors.Is(err, model.ErrInvalidToken) && len(anchor) > 0 {
			// The anchor belongs to an earlier store; read everything again.
			metrics.RecordAnchorOp(metrics.AnchorCorrupt)
			s.observer.logger.Warn(ctx, "anchor not recognised by store, catching up from scratch",
				logger.String("session", s.id), logger.Error(err))
			s.mu.Lock()
			s.anchor = nil
			s.mu.Unlock()
			set, err = s.observer.cursor.ChangesSince(ctx, granted, nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
			return s.failed(ctx, fmt.Errorf("read changes: %w", err))
		}
		token = set.Token
		if contribution(set.Samples) == 0 {
			metrics.RecordNotification(metrics.NotificationSkipped)
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
			return s.advance(ctx, token)
		}
	}
	return s.deliver(ctx, token)
}

// deliver aggregates today and hands the record to the callback. The anchor
// moves only after the callback succeeds.
func (s *Session) deliver(ctx context.Context, token []byte) error {
	o := s.observer
	ctx, span := o.tracer.Start(ctx, "deliver", trace.WithAttributes(
		attribute.String("vitals.session", s.id),
		attribute.String("vitals.key", s.key.String()),
		attribute.String("vitals.strategy", string(s.strategy)),
	))
	defer span.End()
	started := time.Now()

	s.mu.Lock()
	s.setState(ctx, StateDelivering)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.state == StateDelivering {
			s.setState(ctx, StateActive)
		}
		s.mu.Unlock()
	}()

	rec, err := o.agg.Aggregate(ctx, s.key.Kinds(), metric.DayWindow(o.now(), o.loc))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return s.failed(ctx, fmt.Errorf("aggregate: %w", err))
	}

	if err := s.callback(ctx, Result{SessionID: s.id, Key: s.key, Record: rec}); err != nil {
		metrics.RecordNotification(metrics.NotificationFailed)
		span.SetStatus(codes.Error, "callback failed")
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		o.logger.Warn(ctx, "delivery rejected by callback, anchor kept",
			logger.String("session", s.id), logger.Error(err))
		return fmt.Errorf("callback: %w", err)
	}

	metrics.RecordNotification(metrics.NotificationDelivered)
	metrics.RecordDeliveryLatency(float64(time.Since(started).Microseconds()) / 1000)
	s.mu.Lock()
	s.deliveries++
	s.failures = 0
	s.lastRecord = &rec
	s.lastDelivery = o.now()
	s.mu.Unlock()
	return s.advance(ctx, token)
}

// advance persists token as the key's anchor. A failed write leaves the old
// anchor, so the next delivery repeats. The write outlives cancellation of
// ctx.
func (s *Session) advance(ctx context.Context, token []byte) error {
	s.mu.Lock()
	unchanged := len(token) == 0 || bytes.Equal(token, s.anchor)
	s.mu.Unlock()
	if unchanged {
		return nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), anchorWriteTimeout)
	defer cancel()
	if err := s.observer.anchors.Set(wctx, s.key, token); err != nil {
		metrics.RecordErrorByComponent("observe", "anchor_write")
		s.observer.logger.Error(ctx, "anchor not advanced",
			logger.String("session", s.id), logger.Error(err))
		return err
	}
	s.mu.Lock()
	s.anchor = slices.Clone(token)
	s.mu.Unlock()
	return nil
}

// failed surfaces err to the callback and degrades the session after too
// many failures in a row.
func (s *Session) failed(ctx context.Context, err error) error {
	o := s.observer
	metrics.RecordNotification(metrics.NotificationError)

	s.mu.Lock()
	s.failures++
	s.lastErr = err
	degrade := s.failures >= o.threshold && !s.stopping && s.state != StateDegraded
	if degrade {
		s.setState(ctx, StateDegraded)
	}
	cancel := s.cancel
	s.mu.Unlock()

	_ = s.callback(ctx, Result{SessionID: s.id, Key: s.key, Err: err})

	if degrade {
		o.logger.Warn(ctx, "session degraded, waiting for restart",
			logger.String("session", s.id), logger.Int("failures", o.threshold), logger.Error(err))
		if cancel != nil {
			cancel()
		}
	}
	return err
}

// contribution is the total magnitude the samples add: seconds for
// category kinds, absolute values otherwise.
func contribution(samples []model.Sample) float64 {
	var total float64
	for _, smp := range samples {
		if smp.Kind.Mode() == metric.ModeDurationByCategory {
			total += smp.Duration().Seconds()
			continue
		}
		if smp.Value < 0 {
			total -= smp.Value
		} else {
			total += smp.Value
		}
	}
	return total
}
