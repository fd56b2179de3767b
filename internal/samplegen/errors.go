package samplegen

import "errors"

var (
	// ErrUnexpectedStatus is returned when the server answers with an unexpected status.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrMismatch is returned when the server's aggregate disagrees with the generated data.
	ErrMismatch = errors.New("aggregate mismatch")
)
