package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
)

func note(token string) Notification {
	return Notification{Kinds: []metric.Kind{metric.StepCount}, Token: []byte(token)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, note("t1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	n := <-q.Dequeue(ctx)
	if string(n.Token) != "t1" {
		t.Errorf("expected t1, got %q", n.Token)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_CoalescesWhenFull(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, note("t1")) || !q.Enqueue(ctx, note("t2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, note("t3")) {
		t.Error("expected enqueue to be coalesced when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}

	// Order is preserved for what was kept.
	ch := q.Dequeue(ctx)
	if n := <-ch; string(n.Token) != "t1" {
		t.Errorf("expected t1 first, got %q", n.Token)
	}
	if n := <-ch; string(n.Token) != "t2" {
		t.Errorf("expected t2 second, got %q", n.Token)
	}
}

func TestInMemoryQueue_ErrorNotification(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if !q.Enqueue(ctx, Notification{Err: errors.New("feed broke")}) {
		t.Fatal("expected enqueue to succeed")
	}
	n := <-q.Dequeue(ctx)
	if n.Err == nil {
		t.Error("expected the error to travel with the notification")
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, note("t1")) {
		t.Error("expected enqueue to fail with a cancelled context")
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(ctx, note("t"))
			}
		}()
	}
	wg.Wait()

	if l := q.Len(ctx); l != 1000 {
		t.Errorf("expected 1000 queued, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	q.Enqueue(ctx, note("t1"))
	q.Enqueue(ctx, note("t2"))

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, note("t3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// Waiting notifications drain, then the channel closes.
	ch := q.Dequeue(ctx)
	var drained int
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if drained != 2 {
					t.Errorf("expected 2 drained, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}
