package capability

import "errors"

// Sentinel errors for capability checks and authorization requests.
var (
	// ErrUnavailable means the health store is not present on this host. Nothing can be read.
	ErrUnavailable = errors.New("health data unavailable")
	// ErrNeedsAuthorizationRequest means the user has not been asked yet.
	ErrNeedsAuthorizationRequest = errors.New("authorization not yet requested")
	// ErrAuthorizationDenied means every kind the caller needs is denied.
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrInvalidParameters   = errors.New("invalid authorization parameters")
	ErrRequestDenied       = errors.New("authorization request failed")
)
