// Package utils provides small shared helpers.
package utils

import (
	"fmt"
	"time"
)

// ISODateFormat is the canonical storage format for domain dates.
const ISODateFormat = "2006-01-02"

// FormatDate renders a date in canonical ISO form.
func FormatDate(t time.Time) string {
	return t.Format(ISODateFormat)
}

// ParseDate parses a canonical ISO date string at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ISODateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Midnight truncates a time to midnight UTC. Domain date comparisons are
// calendar-day comparisons.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two times fall on the same calendar day (UTC).
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
