package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/okian/vitals/pkg/logger"
)

// PebbleStore keeps values in a Pebble LSM. Writes are synced.
type PebbleStore struct {
	// mu guards db against use after Close; Pebble panics on a closed DB.
	mu     sync.RWMutex
	db     *pebble.DB
	logger logger.Logger
}

// NewPebbleStore opens the Pebble directory at dir.
func NewPebbleStore(dir string, opts ...Option) (*PebbleStore, error) {
	cfg := newConfig(opts)
	if dir == "" {
		return nil, errors.New("open pebble: empty directory")
	}
	db, err := pebble.Open(dir, &pebble.Options{FS: cfg.fs})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &PebbleStore{db: db, logger: cfg.logger.Named("pebble")}
	s.logger.Info(context.Background(), "pebble store opened", logger.String("dir", dir))
	return s, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) (val []byte, err error) {
	defer func(t time.Time) { observe(BackendPebble, "get", t, err) }(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	// v is only valid until closer.Close.
	val = cloneBytes(v)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return val, nil
}

func (s *PebbleStore) Set(_ context.Context, key string, value []byte) (err error) {
	defer func(t time.Time) { observe(BackendPebble, "set", t, err) }(time.Now())
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Delete(_ context.Context, key string) (err error) {
	defer func(t time.Time) { observe(BackendPebble, "delete", t, err) }(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
