package anchor

import "errors"

// Sentinel errors for change anchors.
var (
	// ErrCorruptAnchor is logged when a stored anchor cannot be decoded. Get
	// then reports no anchor.
	ErrCorruptAnchor = errors.New("corrupt anchor")
	ErrEmptyToken    = errors.New("empty anchor token")
)
