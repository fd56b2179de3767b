package fetch

import "errors"

// Sentinel errors for single-kind fetches.
var (
	// ErrUnauthorized means the pre-flight capability check failed; no query was made.
	ErrUnauthorized = errors.New("fetch unauthorized")
	// ErrQueryFailed covers data source errors, timeouts and unconvertible samples.
	ErrQueryFailed = errors.New("fetch query failed")
	ErrTimeout     = errors.New("fetch deadline exceeded")
	ErrUnknownUnit = errors.New("unknown unit")
)
