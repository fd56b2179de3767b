// Package repository provides the durable key-value stores behind the change
// anchors: an in-memory map, SQLite and Pebble.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/vitals/pkg/metrics"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Store is a byte-blob key-value store. Set replaces the whole value
// atomically: a concurrent Get sees either the old or the new bytes.
type Store interface {
	// Get returns ErrNotFound when key has no value.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the named backend. path is ignored by the memory backend;
// for SQLite it is a file path or ":memory:", for Pebble a directory.
func Open(ctx context.Context, backend, path string, opts ...Option) (Store, error) {
	switch strings.ToLower(backend) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, path, opts...)
	case BackendPebble:
		return NewPebbleStore(path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// observe records latency for every call and counts real failures.
func observe(backend, op string, started time.Time, err error) {
	metrics.RecordKVLatency(backend, op, float64(time.Since(started).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordKVError(backend, op)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
