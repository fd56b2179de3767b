package repository

import (
	"errors"
	"fmt"

	"github.com/okian/vitals/internal/domain/model"
)

// Sentinel errors for key-value stores.
var (
	ErrNotFound       = fmt.Errorf("anchor key: %w", model.ErrNotFound)
	ErrClosed         = errors.New("anchor store closed")
	ErrUnknownBackend = errors.New("unknown anchor store backend")
	ErrEmptyKey       = errors.New("empty anchor key")
)
