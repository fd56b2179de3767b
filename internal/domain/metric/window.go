package metric

import (
	"fmt"
	"time"
)

const (
	sleepLead  = 9 * time.Hour
	sleepTrail = 15 * time.Hour
)

// Window is the half-open range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	// ExcludeManual drops user-entered samples for kinds that do not keep them.
	ExcludeManual bool

	// midnight is set for day windows so per-kind overrides can re-anchor.
	midnight time.Time
}

// NewWindow builds an explicit window.
func NewWindow(start, end time.Time, excludeManual bool) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: %s >= %s", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start, End: end, ExcludeManual: excludeManual}, nil
}

// DayWindow returns the calendar day containing ref in loc. A nil loc uses
// ref's own location. Day windows exclude manual samples.
func DayWindow(ref time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = ref.Location()
	}
	t := ref.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start:         start,
		End:           start.AddDate(0, 0, 1),
		ExcludeManual: true,
		midnight:      start,
	}
}

// IsDay reports whether w came from DayWindow.
func (w Window) IsDay() bool { return !w.midnight.IsZero() }

// SleepWindow widens a day window to midnight-9h .. midnight+15h.
// Explicit windows are returned unchanged.
func SleepWindow(w Window) Window {
	if !w.IsDay() {
		return w
	}
	return Window{
		Start:         w.midnight.Add(-sleepLead),
		End:           w.midnight.Add(sleepTrail),
		ExcludeManual: w.ExcludeManual,
		midnight:      w.midnight,
	}
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration is End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
