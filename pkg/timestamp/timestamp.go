// Package timestamp provides standardized Unix millisecond timestamp helpers.
//
// Frame and sample times are int64 milliseconds since the Unix epoch (UTC).
// A value of 0 means "not set".
package timestamp

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromFloat rounds a floating point millisecond value to int64. It reports
// false for NaN, infinities and values outside the int64 range.
func FromFloat(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	r := math.Round(v)
	if r >= math.MaxInt64 || r <= math.MinInt64 {
		return 0, false
	}
	return int64(r), true
}

// ParseMs parses a decimal millisecond string such as "1700000000000" or
// "1700000000000.4". Surrounding whitespace is ignored.
func ParseMs(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return FromFloat(v)
}
