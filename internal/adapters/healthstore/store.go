// Package healthstore is an in-memory health data store. It plays all three
// external roles the engine talks to: the sample source, the permission
// provider and the change feed.
package healthstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

const (
	defaultFeedBuffer = 16
	epochSize         = 16
	tokenSize         = epochSize + 8
)

type entry struct {
	seq    uint64
	sample model.Sample
}

type subscription struct {
	kinds []metric.Kind
	ch    chan model.ChangeNotification
}

// MemoryStore holds samples in insertion order. Every insertion advances a
// sequence number. A change token is the store's epoch followed by that
// number, big-endian, so tokens from another store instance are refused.
type MemoryStore struct {
	mu           sync.RWMutex
	epoch        uuid.UUID
	entries      []entry
	seq          uint64
	status       map[metric.Kind]capability.Status
	failing      map[metric.Kind]error
	available    bool
	prompts      int
	subs         map[int]*subscription
	nextSub      int
	grantAll     bool
	promptAnswer capability.Status
	feedBuffer   int
	minLatency   time.Duration
	maxLatency   time.Duration
	logger       logger.Logger
}

// New creates an empty, available store.
func New(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		epoch:        uuid.New(),
		status:       make(map[metric.Kind]capability.Status),
		failing:      make(map[metric.Kind]error),
		available:    true,
		subs:         make(map[int]*subscription),
		promptAnswer: capability.StatusGranted,
		feedBuffer:   defaultFeedBuffer,
		logger:       logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("healthstore")
	if s.grantAll {
		for _, k := range metric.AllKinds() {
			s.status[k] = capability.StatusGranted
		}
	}
	return s
}

// Available reports whether the store is reachable.
func (s *MemoryStore) Available(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// SetAvailable flips availability.
func (s *MemoryStore) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = ok
}

// Status returns kind's permission state.
func (s *MemoryStore) Status(_ context.Context, kind metric.Kind) (capability.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return capability.StatusDeniedOrUnavailable, ErrUnavailable
	}
	return s.status[kind], nil
}

// SetStatus overrides kind's permission state.
func (s *MemoryStore) SetStatus(kind metric.Kind, st capability.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[kind] = st
}

// RequestAuthorization resolves every not-yet-requested kind in write and
// read to the configured prompt answer. Kinds already decided keep their
// status, as a real prompt is never shown twice.
func (s *MemoryStore) RequestAuthorization(ctx context.Context, write, read []metric.Kind) error {
	if err := s.sleep(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return ErrUnavailable
	}
	s.prompts++
	for _, k := range slices.Concat(write, read) {
		if s.status[k] == capability.StatusNotYetRequested {
			s.status[k] = s.promptAnswer
		}
	}
	return nil
}

// Prompts returns how many authorization requests reached the store.
func (s *MemoryStore) Prompts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts
}

// FailKind makes queries for kind fail with err. A nil err clears it.
func (s *MemoryStore) FailKind(kind metric.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, kind)
		return
	}
	s.failing[kind] = err
}

// Add stores samples and notifies subscribers watching their kinds. Samples
// without an ID get one.
func (s *MemoryStore) Add(ctx context.Context, samples ...model.Sample) error {
	for i := range samples {
		if !samples[i].Kind.Valid() {
			return fmt.Errorf("%w: kind %q", ErrInvalidSample, samples[i].Kind)
		}
		if samples[i].End.Before(samples[i].Start) {
			return fmt.Errorf("%w: end before start", ErrInvalidSample)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		return ErrUnavailable
	}

	changed := make(map[metric.Kind]struct{})
	for _, smp := range samples {
		if smp.ID == "" {
			smp.ID = uuid.NewString()
		}
		s.seq++
		s.entries = append(s.entries, entry{seq: s.seq, sample: smp})
		changed[smp.Kind] = struct{}{}
	}
	metrics.RecordSamplesIngested(len(samples))
	if len(changed) == 0 {
		return nil
	}

	token := s.encodeToken(s.seq)
	for id, sub := range s.subs {
		var hit []metric.Kind
		for _, k := range sub.kinds {
			if _, ok := changed[k]; ok {
				hit = append(hit, k)
			}
		}
		if len(hit) == 0 {
			continue
		}
		s.send(ctx, id, sub, model.ChangeNotification{Kinds: hit, Token: token})
	}
	return nil
}

// FailFeed pushes an error notification to every subscriber.
func (s *MemoryStore) FailFeed(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		s.send(ctx, id, sub, model.ChangeNotification{Kinds: slices.Clone(sub.kinds), Err: err})
	}
}

// send must be called with mu held.
func (s *MemoryStore) send(ctx context.Context, id int, sub *subscription, n model.ChangeNotification) {
	select {
	case sub.ch <- n:
	default:
		s.logger.Debug(ctx, "subscriber lagging, change dropped", logger.Int("subscription", id))
	}
}

// QueryStatistic returns the samples of q.Kind whose start lies in q.Window.
func (s *MemoryStore) QueryStatistic(ctx context.Context, q model.Query) (model.Result, error) {
	if err := s.sleep(ctx); err != nil {
		return model.Result{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return model.Result{}, ErrUnavailable
	}
	if err := s.failing[q.Kind]; err != nil {
		return model.Result{}, err
	}

	var res model.Result
	for _, e := range s.entries {
		smp := e.sample
		if smp.Kind != q.Kind || !q.Window.Contains(smp.Start) {
			continue
		}
		if q.ExcludeManual && smp.Manual {
			continue
		}
		res.Samples = append(res.Samples, smp)
	}
	return res, nil
}

// SubscribeToChanges registers a change listener for kinds. The channel is
// closed once ctx is done.
func (s *MemoryStore) SubscribeToChanges(ctx context.Context, kinds []metric.Kind) (<-chan model.ChangeNotification, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("subscribe: %w", metric.ErrEmptyKey)
	}
	s.mu.Lock()
	if !s.available {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}
	id := s.nextSub
	s.nextSub++
	sub := &subscription{
		kinds: slices.Clone(kinds),
		ch:    make(chan model.ChangeNotification, s.feedBuffer),
	}
	s.subs[id] = sub
	s.mu.Unlock()

	s.logger.Debug(ctx, "change delivery enabled",
		logger.Int("subscription", id), logger.Int("kinds", len(kinds)))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// Subscribers returns the number of live subscriptions.
func (s *MemoryStore) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// ChangesSince returns samples of kinds added after token, and the token to
// resume from. A nil token means from the beginning.
func (s *MemoryStore) ChangesSince(ctx context.Context, kinds []metric.Kind, token []byte) (model.ChangeSet, error) {
	from, err := s.decodeToken(token)
	if err != nil {
		return model.ChangeSet{}, err
	}
	if err := s.sleep(ctx); err != nil {
		return model.ChangeSet{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return model.ChangeSet{}, ErrUnavailable
	}

	var set model.ChangeSet
	for _, e := range s.entries {
		if e.seq > from && slices.Contains(kinds, e.sample.Kind) {
			set.Samples = append(set.Samples, e.sample)
		}
	}
	set.Token = s.encodeToken(s.seq)
	return set, nil
}

func (s *MemoryStore) sleep(ctx context.Context) error {
	if s.maxLatency <= 0 {
		return ctx.Err()
	}
	d := s.minLatency + rand.N(s.maxLatency-s.minLatency) //nolint:gosec // simulated latency
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func (s *MemoryStore) encodeToken(seq uint64) []byte {
	b := make([]byte, tokenSize)
	copy(b, s.epoch[:])
	binary.BigEndian.PutUint64(b[epochSize:], seq)
	return b
}

func (s *MemoryStore) decodeToken(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != tokenSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrBadToken, len(b))
	}
	if !bytes.Equal(b[:epochSize], s.epoch[:]) {
		return 0, fmt.Errorf("%w: issued by another store", ErrBadToken)
	}
	return binary.BigEndian.Uint64(b[epochSize:]), nil
}
