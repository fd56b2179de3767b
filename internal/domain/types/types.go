// Package types contains the request and response shapes shared by the HTTP
// layer and the sample generator.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/observe"
	"github.com/okian/vitals/internal/domain/workout"
)

// ErrInvalidInput marks a request body that fails validation.
var ErrInvalidInput = errors.New("invalid input")

// SampleInput is one item of a POST /samples body.
type SampleInput struct {
	Kind     string  `json:"kind"`
	Start    string  `json:"start"`
	End      string  `json:"end,omitempty"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
	Category string  `json:"category,omitempty"`
	Manual   bool    `json:"manual,omitempty"`
}

// Sample validates the input and converts it. A missing end means an
// instantaneous sample.
func (in SampleInput) Sample() (model.Sample, error) {
	kind, err := metric.ParseKind(in.Kind)
	if err != nil {
		return model.Sample{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(in.Start))
	if err != nil {
		return model.Sample{}, fmt.Errorf("%w: start must be RFC3339", ErrInvalidInput)
	}
	end := start
	if in.End != "" {
		end, err = time.Parse(time.RFC3339, strings.TrimSpace(in.End))
		if err != nil {
			return model.Sample{}, fmt.Errorf("%w: end must be RFC3339", ErrInvalidInput)
		}
	}
	if end.Before(start) {
		return model.Sample{}, fmt.Errorf("%w: end before start", ErrInvalidInput)
	}
	if kind.Mode() == metric.ModeDurationByCategory && in.Category == "" {
		return model.Sample{}, fmt.Errorf("%w: %s needs a category", ErrInvalidInput, kind)
	}
	category := in.Category
	if kind == metric.Workout {
		a, err := workout.ParseActivity(in.Category)
		if err != nil {
			return model.Sample{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		category = string(a)
	}
	unit := in.Unit
	if unit == "" {
		unit = string(kind.Unit())
	}
	return model.Sample{
		Kind:     kind,
		Start:    start,
		End:      end,
		Value:    in.Value,
		Unit:     unit,
		Category: category,
		Manual:   in.Manual,
	}, nil
}

// SamplesRequest is the POST /samples body.
type SamplesRequest struct {
	Items []SampleInput `json:"samples"`
}

// Samples converts every item, stopping at the first invalid one.
func (r SamplesRequest) Samples() ([]model.Sample, error) {
	if len(r.Items) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	out := make([]model.Sample, 0, len(r.Items))
	for i, in := range r.Items {
		s, err := in.Sample()
		if err != nil {
			return nil, fmt.Errorf("samples[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// AuthorizeRequest is the POST /authorize body.
type AuthorizeRequest struct {
	Write []string `json:"write"`
	Read  []string `json:"read"`
}

// Kinds parses both lists.
func (r AuthorizeRequest) Kinds() (write, read []metric.Kind, err error) {
	if write, err = metric.ParseKinds(r.Write); err != nil {
		return nil, nil, fmt.Errorf("%w: write: %w", ErrInvalidInput, err)
	}
	if read, err = metric.ParseKinds(r.Read); err != nil {
		return nil, nil, fmt.Errorf("%w: read: %w", ErrInvalidInput, err)
	}
	if len(write)+len(read) == 0 {
		return nil, nil, fmt.Errorf("%w: no kinds", ErrInvalidInput)
	}
	return write, read, nil
}

// ObserveRequest is the POST /observations body.
type ObserveRequest struct {
	Kinds    []string `json:"kinds"`
	Strategy string   `json:"strategy,omitempty"`
}

// Session is the JSON view of an observation session.
type Session struct {
	ID           string                  `json:"id"`
	Kinds        []metric.Kind           `json:"kinds"`
	Strategy     string                  `json:"strategy"`
	State        string                  `json:"state"`
	Granted      []metric.Kind           `json:"granted"`
	Deliveries   int                     `json:"deliveries"`
	Failures     int                     `json:"failures"`
	HasAnchor    bool                    `json:"has_anchor"`
	LastDelivery *time.Time              `json:"last_delivery,omitempty"`
	LastRecord   *metric.CompositeRecord `json:"last_record,omitempty"`
	LastError    string                  `json:"last_error,omitempty"`
}

// NewSession builds the view from a session snapshot.
func NewSession(info observe.Info) Session {
	s := Session{
		ID:         info.ID,
		Kinds:      info.Key.Kinds(),
		Strategy:   string(info.Strategy),
		State:      info.State.String(),
		Granted:    info.Granted,
		Deliveries: info.Deliveries,
		Failures:   info.Failures,
		HasAnchor:  info.HasAnchor,
		LastRecord: info.LastRecord,
	}
	if s.Granted == nil {
		s.Granted = []metric.Kind{}
	}
	if !info.LastDelivery.IsZero() {
		t := info.LastDelivery
		s.LastDelivery = &t
	}
	if info.LastError != nil {
		s.LastError = info.LastError.Error()
	}
	return s
}

// Workout is the JSON view of one workout.
type Workout struct {
	ID               string    `json:"id"`
	Activity         string    `json:"activity"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	DurationMinutes  float64   `json:"duration_minutes"`
	DistanceMeters   *float64  `json:"distance_meters,omitempty"`
	ActiveCalories   *float64  `json:"active_calories,omitempty"`
	AverageHeartRate *float64  `json:"average_heart_rate,omitempty"`
	Steps            *float64  `json:"steps,omitempty"`
}

// NewWorkouts builds the views, keeping order.
func NewWorkouts(found []workout.Workout) []Workout {
	out := make([]Workout, 0, len(found))
	for _, w := range found {
		out = append(out, Workout{
			ID:               w.ID,
			Activity:         string(w.Activity),
			Start:            w.Start,
			End:              w.End,
			DurationMinutes:  metric.Round2(w.DurationMinutes),
			DistanceMeters:   w.DistanceMeters,
			ActiveCalories:   w.ActiveCalories,
			AverageHeartRate: w.AverageHeartRate,
			Steps:            w.Steps,
		})
	}
	return out
}
