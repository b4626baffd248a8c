// Package units converts planner output, which is always SI (m, m/s, m/s²),
// into display units for reports and the CLI.
package units

import "strings"

// Speed unit names accepted by reports and the API.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

const (
	mpsToMPH  = 2.2369362920544
	mpsToKMPH = 3.6
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mpsToMPH
	case KMPH, KPH:
		return speedMPS * mpsToKMPH
	default:
		return speedMPS
	}
}

// ConvertSpeeds converts every element of speedsMPS.
func ConvertSpeeds(speedsMPS []float64, targetUnits string) []float64 {
	out := make([]float64, len(speedsMPS))
	for i, v := range speedsMPS {
		out[i] = ConvertSpeed(v, targetUnits)
	}
	return out
}

// SpeedLabel returns the axis label for a speed unit.
func SpeedLabel(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}
