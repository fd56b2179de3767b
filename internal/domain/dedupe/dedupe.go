// Package dedupe guards a keyspace so that at most one holder owns each key.
package dedupe

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps keys to their single live holder. The check for an existing
// holder and the insertion of a new one happen under one lock, so concurrent
// claimers of the same key always converge on one value.
type Registry[T comparable] struct {
	mu         sync.Mutex
	entries    map[string]T
	maxEntries int
	size       atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry[T comparable](opts ...Option) *Registry[T] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry[T]{
		entries:    make(map[string]T),
		maxEntries: cfg.maxEntries,
	}
}

// Claim returns the holder of key. If there is none, create is called under
// the registry lock and its result becomes the holder; created is then true.
// create must not block.
func (r *Registry[T]) Claim(_ context.Context, key string, create func() T) (holder T, created bool, err error) {
	if key == "" {
		return holder, false, ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		return existing, false, nil
	}
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		return holder, false, ErrFull
	}
	holder = create()
	r.entries[key] = holder
	r.size.Add(1)
	return holder, true, nil
}

// Release frees key if holder still owns it. It reports whether the key was
// released; a stale holder cannot evict a newer one.
func (r *Registry[T]) Release(_ context.Context, key string, holder T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[key]
	if !ok || current != holder {
		return false
	}
	delete(r.entries, key)
	r.size.Add(-1)
	return true
}

// Get returns the current holder of key.
func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[key]
	return h, ok
}

// Size returns the number of claimed keys.
func (r *Registry[T]) Size() int64 {
	return r.size.Load()
}

// Keys returns the claimed keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of the current holders ordered by key.
func (r *Registry[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.entries[k])
	}
	return out
}
