// Package timestamp provides standardized wall-clock string handling for the
// event envelope.
//
// The envelope's occurred_at field travels as an RFC3339 UTC string. Callers
// hand in whatever their upstream gave them (a time.Time, a string in one of
// a few common layouts, a Unix epoch), and this package normalizes it.
//
// Zero Value Semantics:
//   - An empty string or zero time.Time means "not set"
//   - Parse falls back to the supplied default on unparseable input rather
//     than failing the publish
//
// Usage Examples:
//
//	// Current time, wire-formatted
//	s := timestamp.Now()
//
//	// Normalize an optional caller-supplied value
//	s := timestamp.Parse(params.OccurredAt, time.Now())
//
//	// Back to time.Time for persistence
//	t, ok := timestamp.ToTime(envelope.OccurredAt)
package timestamp

import (
	"strconv"
	"time"
)

// Layouts accepted by Parse, tried in order.
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700", // RFC3339 without the colon
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Now returns the current UTC time in wire format.
func Now() string {
	return Format(time.Now())
}

// Format converts a time.Time to the RFC3339 UTC wire string.
// Returns empty string for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Parse normalizes a caller-supplied timestamp value to wire format.
// Supports:
//   - time.Time and *time.Time
//   - string (RFC3339 and a few common layouts, or a Unix epoch string)
//   - int64/int/float64 Unix epochs (milliseconds if > 1e12, else seconds)
//   - nil / zero values
//
// Unparseable or empty input falls back to def. A publish should not fail
// because an upstream put garbage in an optional field.
func Parse(input any, def time.Time) string {
	if input == nil {
		return Format(def)
	}

	switch v := input.(type) {
	case time.Time:
		if v.IsZero() {
			return Format(def)
		}
		return Format(v)

	case *time.Time:
		if v == nil || v.IsZero() {
			return Format(def)
		}
		return Format(*v)

	case string:
		if v == "" {
			return Format(def)
		}
		if t, ok := parseString(v); ok {
			return Format(t)
		}
		return Format(def)

	case int64:
		return Format(fromEpoch(v))

	case int:
		return Format(fromEpoch(int64(v)))

	case float64:
		return Format(fromEpoch(int64(v)))

	default:
		return Format(def)
	}
}

// ToTime converts a wire string back to time.Time.
func ToTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	return parseString(s)
}

func parseString(s string) (time.Time, bool) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Unix epoch as a string
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if t := fromEpoch(epoch); !t.IsZero() {
			return t, true
		}
	}
	return time.Time{}, false
}

// fromEpoch treats values greater than 1e12 as milliseconds, else seconds.
func fromEpoch(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
