package units

import (
	"math"
	"testing"
)

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name     string
		meters   float64
		target   string
		expected float64
	}{
		{"meters to meters", 1.5, Meters, 1.5},
		{"meters to centimeters", 1.5, Centimeters, 150},
		{"meters to feet", 1.0, Feet, 3.28083989501312},
		{"zero distance", 0, Feet, 0},
		{"unknown unit returns input", 2.5, "furlong", 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertDistance(tt.meters, tt.target)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ConvertDistance(%v, %q) = %v, want %v", tt.meters, tt.target, got, tt.expected)
			}
		})
	}
}

func TestConvertAngle(t *testing.T) {
	tests := []struct {
		name     string
		radians  float64
		target   string
		expected float64
	}{
		{"radians to radians", math.Pi, Radians, math.Pi},
		{"radians to milliradians", 0.05, Milliradians, 50},
		{"radians to degrees", math.Pi, Degrees, 180},
		{"quarter turn to degrees", math.Pi / 2, Degrees, 90},
		{"negative angle", -math.Pi / 4, Degrees, -45},
		{"unknown unit returns input", 1.0, "grad", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertAngle(tt.radians, tt.target)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ConvertAngle(%v, %q) = %v, want %v", tt.radians, tt.target, got, tt.expected)
			}
		})
	}
}

func TestIsValidDistance(t *testing.T) {
	for _, unit := range ValidDistanceUnits {
		if !IsValidDistance(unit) {
			t.Errorf("IsValidDistance(%q) = false, want true", unit)
		}
	}

	invalid := []string{"", "meter", "M", "km", "rad"}
	for _, unit := range invalid {
		if IsValidDistance(unit) {
			t.Errorf("IsValidDistance(%q) = true, want false", unit)
		}
	}
}

func TestIsValidAngle(t *testing.T) {
	for _, unit := range ValidAngleUnits {
		if !IsValidAngle(unit) {
			t.Errorf("IsValidAngle(%q) = false, want true", unit)
		}
	}

	invalid := []string{"", "radian", "degrees", "m"}
	for _, unit := range invalid {
		if IsValidAngle(unit) {
			t.Errorf("IsValidAngle(%q) = true, want false", unit)
		}
	}
}

func TestGetValidUnitsStrings(t *testing.T) {
	if GetValidDistanceUnitsString() != "m, cm, ft" {
		t.Errorf("unexpected distance units string: %q", GetValidDistanceUnitsString())
	}
	if GetValidAngleUnitsString() != "rad, mrad, deg" {
		t.Errorf("unexpected angle units string: %q", GetValidAngleUnitsString())
	}
}

func TestRoundTripConversions(t *testing.T) {
	// deg -> rad factor is the reciprocal of rad -> deg
	angle := 1.234
	deg := ConvertAngle(angle, Degrees)
	back := deg / 57.29577951308232
	if math.Abs(back-angle) > 1e-12 {
		t.Errorf("angle round trip: got %v, want %v", back, angle)
	}

	dist := 7.89
	ft := ConvertDistance(dist, Feet)
	backM := ft / 3.28083989501312
	if math.Abs(backM-dist) > 1e-12 {
		t.Errorf("distance round trip: got %v, want %v", backM, dist)
	}
}
