package ledger

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of date-only query parameters.
const DateLayout = "2006-01-02"

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfMonth returns the first instant of t's calendar month in loc.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// StartOfYear returns the first instant of t's calendar year in loc.
func StartOfYear(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
}

// ParseDateBound parses a filter bound given either as a date (2006-01-02)
// or an RFC3339 timestamp. A bare date used as an upper bound covers the
// whole day: it resolves to the last nanosecond of that day in loc.
func ParseDateBound(s string, upper bool, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD or RFC3339", ErrInvalidInput, s)
	}
	if upper {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	d = d.UTC()
	return &d, nil
}
