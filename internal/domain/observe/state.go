package observe

import (
	"fmt"
	"strings"
)

// State is a session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateDelivering
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDelivering:
		return "delivering"
	case StateDegraded:
		return "degraded"
	default:
		return "idle"
	}
}

// Live reports whether a session in this state still holds its key.
func (s State) Live() bool { return s != StateIdle }

// Strategy selects how a session learns what changed.
type Strategy string

const (
	// StrategyNotification re-aggregates on every change notification and
	// stores the notification's token.
	StrategyNotification Strategy = "notification"
	// StrategyCursor reads the samples added since the anchor first and
	// skips delivery when they contribute nothing.
	StrategyCursor Strategy = "cursor"
)

// ParseStrategy accepts "notification" or "cursor". Empty means notification.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyNotification:
		return StrategyNotification, nil
	case StrategyCursor:
		return StrategyCursor, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidParameters, s)
	}
}
