package healthstore

import (
	"time"

	"github.com/okian/vitals/internal/domain/capability"
	"github.com/okian/vitals/pkg/logger"
)

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithLatencyRange makes every query sleep a random duration in
// [minLatency, maxLatency) to model a slow store.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *MemoryStore) {
		if minLatency >= 0 && maxLatency > minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithGrantAll starts every kind as granted.
func WithGrantAll() Option {
	return func(s *MemoryStore) {
		s.grantAll = true
	}
}

// WithPromptAnswer sets what an authorization prompt resolves
// not-yet-requested kinds to. The default is granted.
func WithPromptAnswer(st capability.Status) Option {
	return func(s *MemoryStore) {
		s.promptAnswer = st
	}
}

// WithFeedBuffer sets the per-subscription notification buffer.
func WithFeedBuffer(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.feedBuffer = n
		}
	}
}

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}
