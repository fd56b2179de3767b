// Package metric defines the queryable health series, how each one is reduced
// over a window, and the records produced by an aggregation.
package metric

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a queryable health series.
type Kind string

// Known kinds.
const (
	HeartRate              Kind = "heart_rate"
	RestingHeartRate       Kind = "resting_heart_rate"
	StepCount              Kind = "step_count"
	DistanceWalkingRunning Kind = "distance_walking_running"
	ActiveEnergyBurned     Kind = "active_energy_burned"
	Height                 Kind = "height"
	BodyMass               Kind = "body_mass"
	DietaryEnergy          Kind = "dietary_energy"
	DietaryFat             Kind = "dietary_fat"
	DietaryCarbohydrate    Kind = "dietary_carbohydrate"
	DietaryProtein         Kind = "dietary_protein"
	DietaryWater           Kind = "dietary_water"
	MindfulDuration        Kind = "mindful_duration"
	SleepStage             Kind = "sleep_stage"
	// Workout samples span one session; Category names the activity.
	Workout Kind = "workout"
)

// Mode is the reduction applied to a kind's samples over a window.
type Mode string

const (
	ModeSum                Mode = "sum"
	ModeAverage            Mode = "average"
	ModeLatest             Mode = "latest_sample"
	ModeDurationByCategory Mode = "duration_by_category"
)

// Unit is the canonical unit a kind is reported in.
type Unit string

const (
	UnitCountPerMinute Unit = "count/min"
	UnitCount          Unit = "count"
	UnitMeter          Unit = "m"
	UnitKilocalorie    Unit = "kcal"
	UnitCentimeter     Unit = "cm"
	UnitKilogram       Unit = "kg"
	UnitGram           Unit = "g"
	UnitFluidOunce     Unit = "fl_oz_us"
	UnitSecond         Unit = "s"
)

// Category output keys.
const (
	RemSeconds     = "rem_seconds"
	CoreSeconds    = "core_seconds"
	DeepSeconds    = "deep_seconds"
	AwakeCount     = "awake_count"
	MindfulSeconds = "mindful_seconds"
)

// CategoryRule maps a sample's category label to an output bucket.
// Count buckets tally occurrences; the rest accumulate seconds.
type CategoryRule struct {
	Key   string
	Count bool
}

// Profile is the static description of a kind.
type Profile struct {
	Kind Kind
	Mode Mode
	Unit Unit
	// KeepManual keeps user-entered samples even in windows that exclude them.
	KeepManual bool
	// SleepSpan widens day windows to the overnight span.
	SleepSpan bool
	// ActiveMinutes asks the aggregator for a second task summing sample durations.
	ActiveMinutes bool
	// Categories is consulted only in ModeDurationByCategory. Labels not listed are ignored.
	Categories map[string]CategoryRule
}

var sleepCategories = map[string]CategoryRule{
	"rem":   {Key: RemSeconds},
	"core":  {Key: CoreSeconds},
	"deep":  {Key: DeepSeconds},
	"awake": {Key: AwakeCount, Count: true},
}

var mindfulCategories = map[string]CategoryRule{
	"":        {Key: MindfulSeconds},
	"mindful": {Key: MindfulSeconds},
}

// WorkoutActivities lists the activity labels a workout sample may carry.
var WorkoutActivities = []string{
	"walking", "running", "cycling", "yoga", "swimming",
	"rowing", "functional_strength_training", "climbing", "dance", "hiking",
}

// WorkoutSecondsKey is the category output key for an activity's total time.
func WorkoutSecondsKey(activity string) string { return activity + "_seconds" }

func workoutCategories() map[string]CategoryRule {
	out := make(map[string]CategoryRule, len(WorkoutActivities))
	for _, a := range WorkoutActivities {
		out[a] = CategoryRule{Key: WorkoutSecondsKey(a)}
	}
	return out
}

var profiles = map[Kind]Profile{
	HeartRate:              {Kind: HeartRate, Mode: ModeAverage, Unit: UnitCountPerMinute},
	RestingHeartRate:       {Kind: RestingHeartRate, Mode: ModeAverage, Unit: UnitCountPerMinute},
	StepCount:              {Kind: StepCount, Mode: ModeSum, Unit: UnitCount, ActiveMinutes: true},
	DistanceWalkingRunning: {Kind: DistanceWalkingRunning, Mode: ModeSum, Unit: UnitMeter},
	ActiveEnergyBurned:     {Kind: ActiveEnergyBurned, Mode: ModeSum, Unit: UnitKilocalorie},
	Height:                 {Kind: Height, Mode: ModeLatest, Unit: UnitCentimeter, KeepManual: true},
	BodyMass:               {Kind: BodyMass, Mode: ModeLatest, Unit: UnitKilogram, KeepManual: true},
	DietaryEnergy:          {Kind: DietaryEnergy, Mode: ModeSum, Unit: UnitKilocalorie, KeepManual: true},
	DietaryFat:             {Kind: DietaryFat, Mode: ModeSum, Unit: UnitGram, KeepManual: true},
	DietaryCarbohydrate:    {Kind: DietaryCarbohydrate, Mode: ModeSum, Unit: UnitGram, KeepManual: true},
	DietaryProtein:         {Kind: DietaryProtein, Mode: ModeSum, Unit: UnitGram, KeepManual: true},
	DietaryWater:           {Kind: DietaryWater, Mode: ModeSum, Unit: UnitFluidOunce, KeepManual: true},
	MindfulDuration: {
		Kind: MindfulDuration, Mode: ModeDurationByCategory, Unit: UnitSecond,
		KeepManual: true, Categories: mindfulCategories,
	},
	SleepStage: {
		Kind: SleepStage, Mode: ModeDurationByCategory, Unit: UnitSecond,
		KeepManual: true, SleepSpan: true, Categories: sleepCategories,
	},
	Workout: {
		Kind: Workout, Mode: ModeDurationByCategory, Unit: UnitSecond,
		KeepManual: true, Categories: workoutCategories(),
	},
}

// Lookup returns the static profile for k.
func Lookup(k Kind) (Profile, bool) {
	s, ok := profiles[k]
	return s, ok
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := profiles[k]
	return ok
}

// Mode returns the aggregation mode of k, or "" for unknown kinds.
func (k Kind) Mode() Mode { return profiles[k].Mode }

// Unit returns the canonical unit of k, or "" for unknown kinds.
func (k Kind) Unit() Unit { return profiles[k].Unit }

func (k Kind) String() string { return string(k) }

// ParseKind accepts snake_case or kebab-case names, case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// ParseKinds parses every entry and fails on the first unknown one.
func ParseKinds(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// AllKinds returns every known kind in sorted order.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(profiles))
	for k := range profiles {
		out = append(out, k)
	}
	sortKinds(out)
	return out
}

func sortKinds(ks []Kind) {
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
}
