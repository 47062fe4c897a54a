package utils

import (
	"fmt"
	"math"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// SecondsSince returns the signed number of seconds elapsed from origin to t.
func SecondsSince(origin, t time.Time) float64 {
	return t.Sub(origin).Seconds()
}

// SecondsToDuration converts a possibly fractional number of seconds into a Duration.
func SecondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
