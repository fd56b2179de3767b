package service

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every Engine method after Close.
	ErrClosed = errors.New("engine closed")
	// ErrIngestUnsupported is returned when the data source cannot accept samples.
	ErrIngestUnsupported = fmt.Errorf("data source does not accept samples: %w", errors.ErrUnsupported)
)
