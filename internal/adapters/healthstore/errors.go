package healthstore

import (
	"errors"
	"fmt"

	"github.com/okian/vitals/internal/domain/model"
)

var (
	// ErrUnavailable is returned when the store has been marked unavailable.
	ErrUnavailable = errors.New("health store unavailable")
	// ErrInvalidSample is returned by Add for a sample it cannot hold.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrBadToken is returned by ChangesSince for a token it did not issue.
	ErrBadToken = fmt.Errorf("health store: %w", model.ErrInvalidToken)
)
