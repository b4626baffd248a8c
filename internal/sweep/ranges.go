// Package sweep runs the planner across a range of one tuning parameter and
// collects how the solved profile responds.
package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RangeSpec defines a floating-point parameter range for sweeping.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	var vals [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", vals[2])
	}
	return RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

const maxValues = 10000

// GenerateRange returns min, min+step, ... up to max inclusive, rounded to
// 1e-6. It returns nil for an empty or oversized range.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}
	count := int(math.Floor((max-min)/step+1e-9)) + 1
	if count > maxValues || count < 0 {
		return nil
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, math.Round((min+float64(i)*step)*1e6)/1e6)
	}
	return out
}

// ParseParamList accepts either "min:max:step" or a comma-separated list.
func ParseParamList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		vals := GenerateRange(spec.Min, spec.Max, spec.Step)
		if vals == nil {
			return nil, fmt.Errorf("range %q is empty or exceeds %d values", s, maxValues)
		}
		return vals, nil
	}
	return ParseCSVFloat64s(s)
}

// ParseCSVFloat64s parses a comma-separated list of float64 values.
// Returns nil, nil for empty input strings.
func ParseCSVFloat64s(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// MeanStddev calculates the mean and sample standard deviation of a slice.
// Returns (0, 0) for empty slices.
func MeanStddev(xs []float64) (mean float64, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean = sum / float64(len(xs))
	if len(xs) == 1 {
		return mean, 0
	}
	var sdSum float64
	for _, v := range xs {
		d := v - mean
		sdSum += d * d
	}
	return mean, math.Sqrt(sdSum / float64(len(xs)-1))
}
