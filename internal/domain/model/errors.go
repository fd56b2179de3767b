package model

import "errors"

// Sentinel errors shared by the domain and the adapters that serve it.
var (
	// ErrNotFound is wrapped by key-value stores when a key has no value.
	ErrNotFound = errors.New("not found")
	// ErrInvalidToken is wrapped by a change source when a token is not one
	// it issued: malformed bytes, or a position from a previous incarnation
	// of the store. Readers drop the token and start over.
	ErrInvalidToken = errors.New("change token not recognised")
)
