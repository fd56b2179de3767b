package dedupe

import "errors"

var (
	// ErrFull is returned by Claim when the registry holds its maximum number of keys.
	ErrFull = errors.New("registry full")
	// ErrEmptyKey is returned by Claim for an empty key.
	ErrEmptyKey = errors.New("empty key")
)
