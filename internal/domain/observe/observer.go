// Package observe keeps one live change subscription per observation key and
// turns change notifications into freshly aggregated day records.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/dedupe"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultFailureThreshold = 3
	defaultBufferSize       = 16
)

// Gate is the capability collaborator.
type Gate interface {
	Available(ctx context.Context) error
	Status(ctx context.Context, kind metric.Kind) (capability.Status, error)
	RequestAuthorization(ctx context.Context, write, read []metric.Kind) error
}

// Aggregator builds the record delivered to callbacks.
type Aggregator interface {
	Aggregate(ctx context.Context, kinds []metric.Kind, w metric.Window) (metric.CompositeRecord, error)
}

// Feed is the store's change feed. The returned channel must close when ctx ends.
type Feed interface {
	SubscribeToChanges(ctx context.Context, kinds []metric.Kind) (<-chan model.ChangeNotification, error)
}

// Cursor reads the samples added after a token.
type Cursor interface {
	ChangesSince(ctx context.Context, kinds []metric.Kind, token []byte) (model.ChangeSet, error)
}

// Anchors persists the last delivered token per key.
type Anchors interface {
	Get(ctx context.Context, key metric.ObservationKey) ([]byte, bool, error)
	Set(ctx context.Context, key metric.ObservationKey, token []byte) error
	Clear(ctx context.Context, key metric.ObservationKey) error
}

// Result is what a callback receives: a record, or the failure that
// prevented one.
type Result struct {
	SessionID string
	Key       metric.ObservationKey
	Record    metric.CompositeRecord
	Err       error
}

// Callback receives deliveries. Returning an error leaves the anchor where
// it was so the same changes are delivered again. A callback must not call
// Stop on its own session.
type Callback func(ctx context.Context, res Result) error

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the observer's logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Observer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer overrides the tracer used for deliver spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Observer) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLocation sets the time zone that defines "today".
func WithLocation(loc *time.Location) Option {
	return func(o *Observer) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithFailureThreshold sets how many consecutive failed notifications
// degrade a session.
func WithFailureThreshold(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.threshold = n
		}
	}
}

// WithBufferSize sets each session's notification queue capacity.
func WithBufferSize(n int) Option {
	return func(o *Observer) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithMaxSessions caps live sessions. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(o *Observer) {
		if n >= 0 {
			o.maxSessions = n
		}
	}
}

// WithDefaultStrategy sets the strategy used when Start is not given one.
func WithDefaultStrategy(s Strategy) Option {
	return func(o *Observer) {
		if s != "" {
			o.strategy = s
		}
	}
}

// WithCursor enables the cursor strategy.
func WithCursor(c Cursor) Option {
	return func(o *Observer) {
		o.cursor = c
	}
}

// StartOption configures one Start call.
type StartOption func(*startConfig)

type startConfig struct {
	strategy Strategy
}

// WithStrategy picks the session's strategy.
func WithStrategy(s Strategy) StartOption {
	return func(c *startConfig) {
		c.strategy = s
	}
}

// Observer owns every session. Sessions live until stopped or until the
// observer is closed; the context given to Start only bounds starting.
type Observer struct {
	gate    Gate
	agg     Aggregator
	feed    Feed
	cursor  Cursor
	anchors Anchors
	newPipe Pipeline

	sessions    *dedupe.Registry[*Session]
	maxSessions int
	threshold   int
	buffer      int
	strategy    Strategy
	loc         *time.Location
	now         func() time.Time

	logger logger.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an observer. pipeline builds each session's notification
// buffer and delivery loop.
func New(gate Gate, agg Aggregator, feed Feed, anchors Anchors, pipeline Pipeline, opts ...Option) *Observer {
	o := &Observer{
		gate:      gate,
		agg:       agg,
		feed:      feed,
		anchors:   anchors,
		newPipe:   pipeline,
		threshold: defaultFailureThreshold,
		buffer:    defaultBufferSize,
		strategy:  StrategyNotification,
		loc:       time.Local,
		now:       time.Now,
		logger:    logger.GetOrNop(),
		tracer:    otel.Tracer("vitals/observe"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("observer")
	o.sessions = dedupe.NewRegistry[*Session](dedupe.WithMaxEntries(o.maxSessions))
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Start begins observing kinds. If a session for the same set of kinds is
// already live, that session is returned and cb is ignored.
//
// Errors: ErrInvalidParameters, ErrTooManySessions, ErrCursorUnsupported,
// capability.ErrUnavailable, capability.ErrAuthorizationDenied when every
// kind is denied, ErrCancelled when ctx ends while starting.
func (o *Observer) Start(ctx context.Context, kinds []metric.Kind, cb Callback, opts ...StartOption) (*Session, error) {
	s, _, err := o.Open(ctx, kinds, cb, opts...)
	return s, err
}

// Open is Start that also reports whether this call created the session.
// Of any number of concurrent calls for one key, exactly one sees true.
func (o *Observer) Open(ctx context.Context, kinds []metric.Kind, cb Callback, opts ...StartOption) (*Session, bool, error) {
	if o.closed.Load() {
		return nil, false, ErrClosed
	}
	if cb == nil {
		return nil, false, fmt.Errorf("%w: nil callback", ErrInvalidParameters)
	}
	key, err := metric.NewObservationKey(kinds...)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	cfg := startConfig{strategy: o.strategy}
	for _, opt := range opts {
		opt(&cfg)
	}
	strategy, err := ParseStrategy(string(cfg.strategy))
	if err != nil {
		return nil, false, err
	}
	if strategy == StrategyCursor && o.cursor == nil {
		return nil, false, ErrCursorUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	s, created, err := o.sessions.Claim(ctx, key.String(), func() *Session {
		return newSession(o, uuid.NewString(), key, strategy, cb)
	})
	if err != nil {
		if errors.Is(err, dedupe.ErrFull) {
			return nil, false, ErrTooManySessions
		}
		return nil, false, err
	}
	if !created {
		o.logger.Debug(ctx, "session already live",
			logger.String("key", key.String()), logger.String("session", s.id))
		return s, false, nil
	}
	metrics.RecordSessionTransition(StateStarting.String())

	if err := o.activate(ctx, s); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		s.finish(ctx, err)
		o.logger.Info(ctx, "session failed to start",
			logger.String("key", key.String()), logger.Error(err))
		return nil, false, err
	}
	return s, true, nil
}

// activate runs the starting sequence: capability checks, authorization for
// kinds never asked about, anchor load, subscription.
func (o *Observer) activate(ctx context.Context, s *Session) error {
	if err := o.gate.Available(ctx); err != nil {
		return err
	}
	granted, err := o.authorize(ctx, s.key.Kinds())
	if err != nil {
		return err
	}
	token, _, err := o.anchors.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("load anchor: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	subCtx, cancel := context.WithCancel(o.ctx)
	changes, err := o.feed.SubscribeToChanges(subCtx, granted)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	q, w := o.newPipe(o.buffer, s.handle)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		cancel()
		return ErrSessionStopped
	}
	s.granted = granted
	s.anchor = token
	s.cancel = cancel
	s.mailbox = q
	s.worker = w
	s.failures = 0
	s.setState(ctx, StateActive)
	if !s.counted {
		s.counted = true
		metrics.AddActiveSessions(1)
	}
	s.mu.Unlock()

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		s.pump(subCtx, changes, q)
	}()
	go func() {
		defer o.wg.Done()
		w.Run(subCtx)
	}()

	// A cursor session catches up from its anchor straight away.
	if s.strategy == StrategyCursor {
		q.Enqueue(subCtx, model.ChangeNotification{Kinds: granted})
	}
	return nil
}

// authorize returns the granted subset of kinds, prompting once for those
// never requested.
func (o *Observer) authorize(ctx context.Context, kinds []metric.Kind) ([]metric.Kind, error) {
	statuses := make(map[metric.Kind]capability.Status, len(kinds))
	var pending []metric.Kind
	for _, k := range kinds {
		st, err := o.status(ctx, k)
		if err != nil {
			return nil, err
		}
		statuses[k] = st
		if st == capability.StatusNotYetRequested {
			pending = append(pending, k)
		}
	}

	if len(pending) > 0 {
		err := o.gate.RequestAuthorization(ctx, nil, pending)
		switch {
		case err == nil:
		case errors.Is(err, capability.ErrUnavailable):
			return nil, err
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		default:
			o.logger.Warn(ctx, "authorization request failed", logger.Error(err))
		}
		for _, k := range pending {
			st, err := o.status(ctx, k)
			if err != nil {
				return nil, err
			}
			statuses[k] = st
		}
	}

	granted := make([]metric.Kind, 0, len(kinds))
	for _, k := range kinds {
		if statuses[k] == capability.StatusGranted {
			granted = append(granted, k)
		}
	}
	if len(granted) == 0 {
		return nil, capability.ErrAuthorizationDenied
	}
	return granted, nil
}

// status treats lookup failures other than an absent store as denied.
func (o *Observer) status(ctx context.Context, k metric.Kind) (capability.Status, error) {
	st, err := o.gate.Status(ctx, k)
	if err == nil {
		return st, nil
	}
	if errors.Is(err, capability.ErrUnavailable) {
		return st, err
	}
	if ctx.Err() != nil {
		return st, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	o.logger.Debug(ctx, "status lookup failed", logger.String("kind", string(k)), logger.Error(err))
	return capability.StatusDeniedOrUnavailable, nil
}

// Sessions returns the live sessions ordered by key.
func (o *Observer) Sessions() []*Session {
	return o.sessions.Values()
}

// Keys returns the keys of the live sessions in sorted order.
func (o *Observer) Keys() []string {
	return o.sessions.Keys()
}

// Session looks a live session up by id.
func (o *Observer) Session(id string) (*Session, bool) {
	for _, s := range o.sessions.Values() {
		if s.id == id {
			return s, true
		}
	}
	return nil, false
}

// Lookup returns the live session for kinds, if any.
func (o *Observer) Lookup(kinds []metric.Kind) (*Session, bool) {
	key, err := metric.NewObservationKey(kinds...)
	if err != nil {
		return nil, false
	}
	return o.sessions.Get(key.String())
}

// Close stops every session and refuses new ones. Anchors are kept.
func (o *Observer) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, s := range o.sessions.Values() {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("observer close: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
