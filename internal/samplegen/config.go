// Package samplegen generates synthetic health samples, pushes them to a
// running vitals server and checks what the server aggregates from them.
package samplegen

import (
	"time"

	"github.com/okian/vitals/internal/domain/metric"
)

// Config holds configuration for a generator run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Days          int           // Days of history to generate, ending today
	SlotsPerDay   int           // Samples per kind per day
	BatchSize     int           // Samples per POST /samples
	Workers       int           // Concurrent submitters
	Timeout       time.Duration // HTTP request timeout
	ManualRatio   float64       // Share of step samples flagged as user-entered
	Seed          uint64        // Generator seed; equal seeds give equal samples
	Observe       bool          // Watch step count while submitting
	ObserveWindow time.Duration // How long to wait for the observation to catch up
	Verbose       bool          // Log every batch
}

// DefaultKinds are the kinds the generator emits.
var DefaultKinds = []metric.Kind{
	metric.StepCount,
	metric.DistanceWalkingRunning,
	metric.ActiveEnergyBurned,
	metric.HeartRate,
	metric.DietaryWater,
	metric.SleepStage,
	metric.Workout,
}

// Stats holds run statistics.
type Stats struct {
	SamplesGenerated int
	SamplesSubmitted int
	BatchesFailed    int
	ExpectedSteps    float64
	AggregatedSteps  float64
	Deliveries       int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
