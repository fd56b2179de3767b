package observe

import (
	"context"

	"github.com/okian/vitals/internal/domain/model"
)

// Mailbox buffers one session's notifications. Enqueue never blocks; it
// reports false when the notification was coalesced or refused.
type Mailbox interface {
	Enqueue(ctx context.Context, n model.ChangeNotification) bool
	Close() error
}

// Deliverer drains a Mailbox, handing notifications to the session one at a
// time. Shutdown returns once the notification in progress has finished.
type Deliverer interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// HandleFunc processes one notification.
type HandleFunc func(ctx context.Context, n model.ChangeNotification) error

// Pipeline builds the mailbox and deliverer of a session. capacity is the
// mailbox size and handle must be the deliverer's only consumer.
type Pipeline func(capacity int, handle HandleFunc) (Mailbox, Deliverer)
