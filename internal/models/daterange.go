package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of each end of a normalized date range value
// ("2026-10-15/2026-10-17").
const DateLayout = "2006-01-02"

// FormatDateRange renders the normalized value of a date range entity.
func FormatDateRange(start, end time.Time) string {
	return start.Format(DateLayout) + "/" + end.Format(DateLayout)
}

// ParseDateRange parses a normalized date range value.
func ParseDateRange(v string, loc *time.Location) (time.Time, time.Time, error) {
	from, to, ok := strings.Cut(v, "/")
	if !ok {
		to = from
	}
	start, err := time.ParseInLocation(DateLayout, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date range start: %w", err)
	}
	end, err := time.ParseInLocation(DateLayout, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date range end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range ends before it starts")
	}
	return start, end, nil
}
