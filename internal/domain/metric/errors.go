package metric

import "errors"

// Sentinel errors for metric definitions.
var (
	ErrUnknownKind   = errors.New("unknown metric kind")
	ErrInvalidWindow = errors.New("window start must be before end")
	ErrEmptyKey      = errors.New("observation key needs at least one kind")
)
