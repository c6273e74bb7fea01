package utils

import "math"

// Round rounds a float64 value to 2 decimal places
// Used throughout for ratios and durations to avoid unnecessary precision
func Round(val float64) float64 {
	// Use proper rounding that works for both positive and negative numbers
	return math.Round(val*100) / 100
}

// Percent returns part/total as a percentage rounded to 2 decimals.
// A zero total yields 0.
func Percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return Round(float64(part) / float64(total) * 100)
}
