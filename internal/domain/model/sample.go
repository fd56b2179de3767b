// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/vitals/internal/domain/metric"
)

// Sample is one raw measurement as held by the health store.
type Sample struct {
	ID       string      // store-assigned id
	Kind     metric.Kind // series the sample belongs to
	Start    time.Time
	End      time.Time
	Value    float64 // quantity in Unit; ignored for category samples
	Unit     string  // source unit, converted to the kind's canonical unit on read
	Category string  // category label, e.g. "rem" or "awake"
	Manual   bool    // entered by the user rather than a device
}

// Duration is End - Start, never negative.
func (s Sample) Duration() time.Duration {
	if s.End.Before(s.Start) {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Query asks the data source for one kind's data over a window.
type Query struct {
	Kind          metric.Kind
	Window        metric.Window
	Mode          metric.Mode
	ExcludeManual bool
}

// Statistic is a value the data source already reduced.
type Statistic struct {
	Value float64
	Count int
}

// Result is what the data source returns for a Query. A source may reduce
// the samples itself and set Statistic instead.
type Result struct {
	Samples   []Sample
	Statistic *Statistic
}

// ChangeNotification is one event on a change feed.
type ChangeNotification struct {
	Kinds []metric.Kind // kinds that changed
	Token []byte        // feed position after this change; opaque
	Err   error         // set when the feed reports a failure instead of a change
}

// ChangeSet is the cursor read result: samples added since an anchor plus
// the anchor to resume from next time.
type ChangeSet struct {
	Samples []Sample
	Token   []byte
}
