// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// SecsToDuration converts a floating point number of seconds to a time.Duration,
// rounded to the nanosecond.  e.g., 1.5 => 1500 * time.Millisecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// DurationToSecs converts a time.Duration to a floating point number of seconds
func DurationToSecs(d time.Duration) float64 {
	return d.Seconds()
}
