// Package units provides angle units and conversions between degrees,
// radians and mount encoder steps.
package units

import (
	"fmt"
	"math"
)

// Unit constants
const (
	Degrees = "deg"
	Radians = "rad"
	Steps   = "steps"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Degrees, Radians, Steps}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// DegreesToRadians converts an angle in degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return 2 * math.Pi * deg / 360
}

// RadiansToDegrees converts an angle in radians to degrees.
func RadiansToDegrees(rad float64) float64 {
	return rad * 360 / (2 * math.Pi)
}

// RadiansPerStep is the angle of one encoder step.
func RadiansPerStep(stepsPerRev uint32) float64 {
	return 2 * math.Pi / float64(stepsPerRev)
}

// ConvertAngle converts an angle in radians to the target units.
func ConvertAngle(rad float64, targetUnits string, stepsPerRev uint32) (float64, error) {
	switch targetUnits {
	case Degrees:
		return RadiansToDegrees(rad), nil
	case Radians:
		return rad, nil
	case Steps:
		if stepsPerRev == 0 {
			return 0, fmt.Errorf("steps per revolution must be positive")
		}
		return rad / RadiansPerStep(stepsPerRev), nil
	default:
		return 0, fmt.Errorf("unknown angle unit %q: expected deg, rad or steps", targetUnits)
	}
}
