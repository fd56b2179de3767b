package fetch

import (
	"fmt"
	"strings"

	"github.com/okian/vitals/internal/domain/metric"
)

const mlPerFluidOunce = 29.5735295625

// factors[canonical][source] multiplies a source value into the canonical unit.
var factors = map[metric.Unit]map[string]float64{
	metric.UnitMeter: {
		"km": 1000, "mi": 1609.344, "ft": 0.3048, "in": 0.0254, "cm": 0.01, "yd": 0.9144,
	},
	metric.UnitCentimeter: {
		"m": 100, "mm": 0.1, "in": 2.54, "ft": 30.48,
	},
	metric.UnitKilogram: {
		"g": 0.001, "lb": 0.45359237, "oz": 0.028349523125, "st": 6.35029318,
	},
	metric.UnitGram: {
		"mg": 0.001, "kg": 1000, "oz": 28.349523125,
	},
	metric.UnitKilocalorie: {
		"kj": 0.239005736, "cal": 0.001, "j": 0.000239005736,
	},
	metric.UnitFluidOunce: {
		"ml": 1 / mlPerFluidOunce, "l": 1000 / mlPerFluidOunce, "cup_us": 8,
	},
	metric.UnitSecond: {
		"ms": 0.001, "min": 60, "h": 3600,
	},
	metric.UnitCountPerMinute: {
		"count/s": 60, "hz": 60, "bpm": 1,
	},
	metric.UnitCount: {},
}

// Convert turns value in unit from into the canonical unit to. An empty
// from is taken to already be canonical.
func Convert(value float64, from string, to metric.Unit) (float64, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	if from == "" || from == string(to) {
		return value, nil
	}
	f, ok := factors[to][from]
	if !ok {
		return 0, fmt.Errorf("%w: %q to %s", ErrUnknownUnit, from, to)
	}
	return value * f, nil
}
