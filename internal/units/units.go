// Package units converts tracker measurements (meters, seconds, Celsius) into
// the display units used by the calendar (miles, feet, Fahrenheit, clock and
// pace strings).
package units

import (
	"fmt"
	"math"
)

const (
	MetersPerMile = 1609.344
	FeetPerMeter  = 3.28084
	MetersPerKm   = 1000.0
)

// MetersToMiles converts a distance in meters to statute miles.
func MetersToMiles(m float64) float64 {
	return m / MetersPerMile
}

// MetersToFeet converts meters to feet.
func MetersToFeet(m float64) float64 {
	return m * FeetPerMeter
}

// CelsiusToFahrenheit converts a temperature.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// HMS formats a duration in seconds as H:MM:SS ("0:59:50").
// Negative input is treated as zero.
func HMS(seconds float64) string {
	s := int(seconds)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// PacePerMile formats moving time over distance as "M:SS min/mi".
// It returns "" when the distance is not positive.
func PacePerMile(movingSeconds, meters float64) string {
	return pace(movingSeconds, MetersToMiles(meters), "min/mi")
}

// PacePerKm formats moving time over distance as "M:SS min/km".
func PacePerKm(movingSeconds, meters float64) string {
	return pace(movingSeconds, meters/MetersPerKm, "min/km")
}

func pace(movingSeconds, distance float64, unit string) string {
	if distance <= 0 || movingSeconds <= 0 {
		return ""
	}
	secPerUnit := movingSeconds / distance
	minutes := int(secPerUnit / 60)
	secs := int(math.Mod(secPerUnit, 60))
	return fmt.Sprintf("%d:%02d %s", minutes, secs, unit)
}
