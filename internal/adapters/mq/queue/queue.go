// Package queue buffers change notifications between a session's feed and its delivery worker.
//
// The queue is bounded. A notification arriving while the queue is full is
// coalesced: it is dropped, because every pending notification already causes
// a full re-aggregation of the day and the next delivery carries the newer state.
package queue

import (
	"context"
	"sync"

	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/pkg/metrics"
)

const defaultQueueCapacity = 16

// Notification is the payload flowing through the queue.
type Notification = model.ChangeNotification

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds n to the queue. It returns false if n was coalesced or the
	// queue is closed.
	Enqueue(ctx context.Context, n Notification) bool

	// Dequeue returns the channel notifications are read from. The channel
	// is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Notification

	// Len returns the number of waiting notifications.
	Len(ctx context.Context) int

	// Close stops accepting notifications.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Notification
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Notification, q.capacity)
	return q
}

// Enqueue adds n to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, n Notification) bool { //nolint:gocritic // hugeParam: passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	select {
	case q.items <- n:
		metrics.RecordQueueEnqueue()
		return true
	default:
		metrics.RecordQueueDrop()
		metrics.RecordNotification(metrics.NotificationCoalesced)
		return false
	}
}

// Dequeue returns the receive side of the queue. Every reader shares it;
// each notification is received once. Readers record the dequeue with
// metrics.RecordQueueDequeue.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Notification {
	return q.items
}

// Len returns the number of waiting notifications.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.items)
}

// Close stops the queue. Waiting notifications can still be drained.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
