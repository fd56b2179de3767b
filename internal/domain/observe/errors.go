package observe

import "errors"

// Sentinel errors for observation sessions.
var (
	ErrInvalidParameters = errors.New("observe: invalid parameters")
	// ErrCancelled is returned by Start when its context ends while the session is starting.
	ErrCancelled = errors.New("observe: cancelled")
	// ErrSessionStopped is returned for operations on a session that has been stopped.
	ErrSessionStopped = errors.New("observe: session stopped")
	// ErrNotDegraded is returned by Restart for a session that is not degraded.
	ErrNotDegraded = errors.New("observe: session not degraded")
	// ErrTooManySessions is returned by Start when the session cap is reached.
	ErrTooManySessions = errors.New("observe: too many sessions")
	ErrClosed          = errors.New("observe: observer closed")
	// ErrSessionNotFound is returned when no live session has the given id.
	ErrSessionNotFound = errors.New("observe: session not found")
	// ErrCursorUnsupported is returned when the cursor strategy is asked for
	// but the data source cannot read changes since an anchor.
	ErrCursorUnsupported = errors.New("observe: cursor strategy unsupported")
)
