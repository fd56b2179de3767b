package metric

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is one kind's reduced value. A zero Reading means no data.
type Reading struct {
	Value *float64
	// Categories holds per-label buckets for category kinds. Only labels that
	// were observed appear.
	Categories map[string]float64
	// ActiveMinutes is the step-count companion figure.
	ActiveMinutes *float64
}

// Present reports whether the reading carries a primary value.
func (r Reading) Present() bool { return r.Value != nil }

// Float returns the primary value.
func (r Reading) Float() (float64, bool) {
	if r.Value == nil {
		return 0, false
	}
	return *r.Value, true
}

func (r Reading) clone() Reading {
	out := Reading{}
	if r.Value != nil {
		v := *r.Value
		out.Value = &v
	}
	if r.ActiveMinutes != nil {
		v := *r.ActiveMinutes
		out.ActiveMinutes = &v
	}
	if len(r.Categories) > 0 {
		out.Categories = make(map[string]float64, len(r.Categories))
		for k, v := range r.Categories {
			out.Categories[k] = v
		}
	}
	return out
}

// Float64 returns a pointer to v, for building readings.
func Float64(v float64) *float64 { return &v }

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CompositeRecord is the immutable result of one aggregation call. It holds
// exactly the kinds that were requested; each may be absent.
type CompositeRecord struct {
	window   Window
	kinds    []Kind
	readings map[Kind]Reading
}

// NewCompositeRecord copies readings for the given kinds. Kinds without a
// reading are recorded as absent and readings for other kinds are dropped.
func NewCompositeRecord(w Window, kinds []Kind, readings map[Kind]Reading) CompositeRecord {
	rec := CompositeRecord{
		window:   w,
		readings: make(map[Kind]Reading, len(kinds)),
	}
	for _, k := range kinds {
		if _, dup := rec.readings[k]; dup {
			continue
		}
		rec.readings[k] = readings[k].clone()
		rec.kinds = append(rec.kinds, k)
	}
	sortKinds(rec.kinds)
	return rec
}

// Window is the window the record was computed over.
func (c CompositeRecord) Window() Window { return c.window }

// Kinds returns the record's keys in sorted order.
func (c CompositeRecord) Kinds() []Kind {
	out := make([]Kind, len(c.kinds))
	copy(out, c.kinds)
	return out
}

// Len is the number of keys.
func (c CompositeRecord) Len() int { return len(c.kinds) }

// Get returns a copy of k's reading; ok is false when k was not requested.
func (c CompositeRecord) Get(k Kind) (Reading, bool) {
	r, ok := c.readings[k]
	if !ok {
		return Reading{}, false
	}
	return r.clone(), true
}

// Value returns k's primary value when present.
func (c CompositeRecord) Value(k Kind) (float64, bool) {
	return c.readings[k].Float()
}

type readingJSON struct {
	Value         *float64           `json:"value"`
	Unit          Unit               `json:"unit"`
	Categories    map[string]float64 `json:"categories,omitempty"`
	ActiveMinutes *float64           `json:"active_minutes,omitempty"`
}

// MarshalJSON renders {"start","end","values":{kind:{value,unit,...}}}.
func (c CompositeRecord) MarshalJSON() ([]byte, error) {
	values := make(map[Kind]readingJSON, len(c.kinds))
	for _, k := range c.kinds {
		r := c.readings[k]
		values[k] = readingJSON{
			Value:         r.Value,
			Unit:          k.Unit(),
			Categories:    r.Categories,
			ActiveMinutes: r.ActiveMinutes,
		}
	}
	return json.Marshal(struct {
		Start  string               `json:"start"`
		End    string               `json:"end"`
		Values map[Kind]readingJSON `json:"values"`
	}{
		Start:  c.window.Start.Format(time.RFC3339),
		End:    c.window.End.Format(time.RFC3339),
		Values: values,
	})
}
