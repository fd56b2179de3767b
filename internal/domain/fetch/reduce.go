package fetch

import (
	"fmt"
	"strings"

	"github.com/okian/vitals/internal/domain/metric"
	"github.com/okian/vitals/internal/domain/model"
)

// reducer folds a query result into a reading. Samples are already filtered.
type reducer func(profile metric.Profile, res model.Result) (metric.Reading, error)

var reducers = map[metric.Mode]reducer{
	metric.ModeSum:                reduceSum,
	metric.ModeAverage:            reduceAverage,
	metric.ModeLatest:             reduceLatest,
	metric.ModeDurationByCategory: reduceCategories,
}

// Reduce applies the reducer for profile's mode.
func Reduce(profile metric.Profile, res model.Result) (metric.Reading, error) {
	r, ok := reducers[profile.Mode]
	if !ok {
		return metric.Reading{}, fmt.Errorf("no reducer for mode %q", profile.Mode)
	}
	return r(profile, res)
}

// fromStatistic handles sources that reduce on their side. Count zero is no data.
func fromStatistic(res model.Result) (metric.Reading, bool) {
	if res.Statistic == nil || len(res.Samples) > 0 {
		return metric.Reading{}, false
	}
	if res.Statistic.Count == 0 {
		return metric.Reading{}, true
	}
	return metric.Reading{Value: metric.Float64(metric.Round2(res.Statistic.Value))}, true
}

func reduceSum(profile metric.Profile, res model.Result) (metric.Reading, error) {
	if r, ok := fromStatistic(res); ok {
		return r, nil
	}
	if len(res.Samples) == 0 {
		return metric.Reading{}, nil
	}
	var total float64
	for _, s := range res.Samples {
		v, err := Convert(s.Value, s.Unit, profile.Unit)
		if err != nil {
			return metric.Reading{}, err
		}
		total += v
	}
	return metric.Reading{Value: metric.Float64(metric.Round2(total))}, nil
}

func reduceAverage(profile metric.Profile, res model.Result) (metric.Reading, error) {
	if r, ok := fromStatistic(res); ok {
		return r, nil
	}
	if len(res.Samples) == 0 {
		return metric.Reading{}, nil
	}
	var total float64
	for _, s := range res.Samples {
		v, err := Convert(s.Value, s.Unit, profile.Unit)
		if err != nil {
			return metric.Reading{}, err
		}
		total += v
	}
	return metric.Reading{Value: metric.Float64(metric.Round2(total / float64(len(res.Samples))))}, nil
}

func reduceLatest(profile metric.Profile, res model.Result) (metric.Reading, error) {
	if r, ok := fromStatistic(res); ok {
		return r, nil
	}
	if len(res.Samples) == 0 {
		return metric.Reading{}, nil
	}
	latest := res.Samples[0]
	for _, s := range res.Samples[1:] {
		if s.End.After(latest.End) || (s.End.Equal(latest.End) && s.Start.After(latest.Start)) {
			latest = s
		}
	}
	v, err := Convert(latest.Value, latest.Unit, profile.Unit)
	if err != nil {
		return metric.Reading{}, err
	}
	return metric.Reading{Value: metric.Float64(metric.Round2(v))}, nil
}

// reduceCategories buckets samples by category label. Duration buckets sum
// seconds, count buckets tally occurrences, and unlisted labels are ignored.
// The primary value is the total of the duration buckets.
func reduceCategories(profile metric.Profile, res model.Result) (metric.Reading, error) {
	buckets := make(map[string]float64)
	var total float64
	for _, s := range res.Samples {
		rule, ok := profile.Categories[strings.ToLower(s.Category)]
		if !ok {
			continue
		}
		if rule.Count {
			buckets[rule.Key]++
			continue
		}
		secs := s.Duration().Seconds()
		buckets[rule.Key] += secs
		total += secs
	}
	if len(buckets) == 0 {
		return metric.Reading{}, nil
	}
	for k, v := range buckets {
		buckets[k] = metric.Round2(v)
	}
	return metric.Reading{Value: metric.Float64(metric.Round2(total)), Categories: buckets}, nil
}

// activeMinutes sums sample durations in minutes; absent with no samples.
func activeMinutes(samples []model.Sample) *float64 {
	if len(samples) == 0 {
		return nil
	}
	var total float64
	for _, s := range samples {
		total += s.Duration().Minutes()
	}
	return metric.Float64(metric.Round2(total))
}

// filterManual drops user-entered samples.
func filterManual(samples []model.Sample) []model.Sample {
	out := samples[:0:0]
	for _, s := range samples {
		if !s.Manual {
			out = append(out, s)
		}
	}
	return out
}
