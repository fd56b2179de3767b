package aggregate

import "errors"

// Sentinel errors for aggregation calls.
var (
	ErrInvalidParameters = errors.New("aggregate: invalid parameters")
	// ErrCancelled is returned instead of a partial record when ctx ends mid fan-out.
	ErrCancelled = errors.New("aggregate: cancelled")
)
