// Package units provides shared constants and validation for display units
package units

// Distance unit constants
const (
	Meters      = "m"
	Centimeters = "cm"
	Feet        = "ft"
)

// Angle unit constants
const (
	Radians      = "rad"
	Milliradians = "mrad"
	Degrees      = "deg"
)

// ValidDistanceUnits contains all valid distance unit values
var ValidDistanceUnits = []string{Meters, Centimeters, Feet}

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Radians, Milliradians, Degrees}

// IsValidDistance checks if the given unit is in the list of valid distance units
func IsValidDistance(unit string) bool {
	for _, validUnit := range ValidDistanceUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// IsValidAngle checks if the given unit is in the list of valid angle units
func IsValidAngle(unit string) bool {
	for _, validUnit := range ValidAngleUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidDistanceUnitsString returns a comma-separated string of valid distance units for error messages
func GetValidDistanceUnitsString() string {
	return "m, cm, ft"
}

// GetValidAngleUnitsString returns a comma-separated string of valid angle units for error messages
func GetValidAngleUnitsString() string {
	return "rad, mrad, deg"
}

// ConvertDistance converts a distance from meters to the target units
// Metrics are computed and stored in meters
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Meters:
		return meters
	case Centimeters:
		return meters * 100
	case Feet:
		return meters * 3.28083989501312
	default:
		return meters
	}
}

// ConvertAngle converts an angle from radians to the target units
// Metrics are computed and stored in radians
func ConvertAngle(radians float64, targetUnits string) float64 {
	switch targetUnits {
	case Radians:
		return radians
	case Milliradians:
		return radians * 1000
	case Degrees:
		return radians * 57.29577951308232
	default:
		return radians
	}
}
