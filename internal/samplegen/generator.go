package samplegen

import (
	"math/rand/v2"
	"time"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/types"
)

// Daytime span the activity samples are spread over.
const (
	dayFrom = 7 * time.Hour
	dayTo   = 22 * time.Hour
	slotLen = 10 * time.Minute
)

// Value ranges per kind.
const (
	stepsMin      = 50
	stepsRange    = 1450
	strideMeters  = 0.75
	kcalPerStep   = 0.04
	heartRateMin  = 55
	heartRateSpan = 65
	waterMin      = 4
	waterSpan     = 12
	workoutAt     = 18 * time.Hour
	workoutMinMin = 20
	workoutSpan   = 55
)

var sleepStages = []string{"core", "deep", "core", "rem", "awake", "core", "rem"}

// Batch is one generated set of samples and the facts needed to check the
// server's answers.
type Batch struct {
	Samples []types.SampleInput
	// Steps is the sum of device-recorded steps, which is what a window
	// that excludes manual entries must report.
	Steps float64
	// From and To bound every step sample's start.
	From, To time.Time
}

// Generate builds samples for cfg.Days days ending on the UTC day of now.
func Generate(cfg *Config, now time.Time) Batch {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic data
	today := now.UTC().Truncate(24 * time.Hour)
	slots := max(cfg.SlotsPerDay, 1)
	step := (dayTo - dayFrom) / time.Duration(slots)

	var b Batch
	for d := cfg.Days - 1; d >= 0; d-- {
		midnight := today.AddDate(0, 0, -d)
		for i := range slots {
			at := midnight.Add(dayFrom + time.Duration(i)*step)
			steps := float64(stepsMin + rng.IntN(stepsRange))
			manual := rng.Float64() < cfg.ManualRatio

			b.Samples = append(b.Samples,
				sample(metric.StepCount, at, at.Add(slotLen), steps, "count", "", manual),
				sample(metric.DistanceWalkingRunning, at, at.Add(slotLen), steps*strideMeters/1000, "km", "", manual),
				sample(metric.ActiveEnergyBurned, at, at.Add(slotLen), steps*kcalPerStep, "kcal", "", manual),
				sample(metric.HeartRate, at, at, float64(heartRateMin+rng.IntN(heartRateSpan)), "count/min", "", false),
			)
			if !manual {
				b.Steps += steps
			}
			if b.From.IsZero() || at.Before(b.From) {
				b.From = at
			}
			if at.After(b.To) {
				b.To = at
			}
		}
		b.Samples = append(b.Samples,
			sample(metric.DietaryWater, midnight.Add(12*time.Hour), midnight.Add(12*time.Hour),
				float64(waterMin+rng.IntN(waterSpan)), "fl_oz_us", "", true))
		b.Samples = append(b.Samples, night(midnight, rng)...)
		activity := metric.WorkoutActivities[rng.IntN(len(metric.WorkoutActivities))]
		start := midnight.Add(workoutAt)
		end := start.Add(time.Duration(workoutMinMin+rng.IntN(workoutSpan)) * time.Minute)
		b.Samples = append(b.Samples, sample(metric.Workout, start, end, 0, "", activity, false))
	}
	return b
}

// night lays sleep stages back to back from 23:00 the evening before.
func night(midnight time.Time, rng *rand.Rand) []types.SampleInput {
	at := midnight.Add(-time.Hour)
	out := make([]types.SampleInput, 0, len(sleepStages))
	for _, stage := range sleepStages {
		d := time.Duration(20+rng.IntN(70)) * time.Minute
		out = append(out, sample(metric.SleepStage, at, at.Add(d), 0, "", stage, false))
		at = at.Add(d)
	}
	return out
}

func sample(kind metric.Kind, start, end time.Time, value float64, unit, category string, manual bool) types.SampleInput {
	return types.SampleInput{
		Kind:     string(kind),
		Start:    start.Format(time.RFC3339),
		End:      end.Format(time.RFC3339),
		Value:    value,
		Unit:     unit,
		Category: category,
		Manual:   manual,
	}
}
