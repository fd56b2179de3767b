package workout

import "errors"

var (
	// ErrUnknownActivity is returned for an activity name outside Activities.
	ErrUnknownActivity = errors.New("unknown workout activity")
)
