// Package anchor persists the opaque change-feed cursor of each observation
// key so a session can resume where it left off after a restart.
package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/logger"
	"github.com/okian/vitals/pkg/metrics"
)

const (
	envelopeVersion = 1
	keyNamespace    = "anchor/"
)

// KV is the durable key-value collaborator. Get reports a missing key with
// an error wrapping model.ErrNotFound.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// envelope wraps the token so truncated or foreign bytes are detected.
type envelope struct {
	Version   int       `json:"v"`
	Token     []byte    `json:"token"`
	CRC       uint32    `json:"crc"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKeyPrefix namespaces every storage key, e.g. per user or per device.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock overrides the clock stamped into envelopes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store reads and writes anchors. Operations on one key are serialised;
// different keys never wait on each other.
type Store struct {
	kv     KV
	prefix string
	locks  sync.Map // storage key -> *sync.Mutex
	logger logger.Logger
	now    func() time.Time
}

// NewStore creates an anchor store over kv.
func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: logger.GetOrNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("anchor")
	return s
}

// StorageKey is where key's anchor lives in the KV store.
func (s *Store) StorageKey(key metric.ObservationKey) string {
	return s.prefix + keyNamespace + key.String()
}

func (s *Store) lock(storageKey string) func() {
	m, _ := s.locks.LoadOrStore(storageKey, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the stored token. ok is false when there is none or when the
// stored bytes do not decode; the latter is logged and metered.
func (s *Store) Get(ctx context.Context, key metric.ObservationKey) (token []byte, ok bool, err error) {
	sk := s.StorageKey(key)
	unlock := s.lock(sk)
	defer unlock()

	metrics.RecordAnchorOp(metrics.AnchorRead)
	raw, err := s.kv.Get(ctx, sk)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read anchor %s: %w", key, err)
	}
	token, err = decode(raw)
	if err != nil {
		metrics.RecordAnchorOp(metrics.AnchorCorrupt)
		s.logger.Warn(ctx, "discarding unreadable anchor",
			logger.String("key", key.String()), logger.Error(err))
		return nil, false, nil
	}
	return token, true, nil
}

// Set replaces key's token.
func (s *Store) Set(ctx context.Context, key metric.ObservationKey, token []byte) error {
	if len(token) == 0 {
		return ErrEmptyToken
	}
	raw, err := json.Marshal(envelope{
		Version:   envelopeVersion,
		Token:     token,
		CRC:       crc32.ChecksumIEEE(token),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode anchor %s: %w", key, err)
	}

	sk := s.StorageKey(key)
	unlock := s.lock(sk)
	defer unlock()

	metrics.RecordAnchorOp(metrics.AnchorWrite)
	if err := s.kv.Set(ctx, sk, raw); err != nil {
		return fmt.Errorf("write anchor %s: %w", key, err)
	}
	s.logger.Debug(ctx, "anchor advanced", logger.String("key", key.String()), logger.Int("bytes", len(token)))
	return nil
}

// Clear removes key's token. Clearing a missing anchor is not an error.
func (s *Store) Clear(ctx context.Context, key metric.ObservationKey) error {
	sk := s.StorageKey(key)
	unlock := s.lock(sk)
	defer unlock()

	metrics.RecordAnchorOp(metrics.AnchorClear)
	if err := s.kv.Delete(ctx, sk); err != nil {
		return fmt.Errorf("clear anchor %s: %w", key, err)
	}
	s.logger.Info(ctx, "anchor cleared", logger.String("key", key.String()))
	return nil
}

func decode(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptAnchor, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptAnchor, env.Version)
	}
	if len(env.Token) == 0 {
		return nil, fmt.Errorf("%w: empty token", ErrCorruptAnchor)
	}
	if crc32.ChecksumIEEE(env.Token) != env.CRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptAnchor)
	}
	return env.Token, nil
}
