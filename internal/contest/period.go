package contest

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01-02"

// Period is the Monday date (YYYY-MM-DD) anchoring one contest week.
type Period string

func (p Period) String() string { return string(p) }

// Start returns midnight of the period's Monday in loc.
func (p Period) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(periodLayout, string(p), loc)
}

// PeriodFor returns the period containing t, with weeks starting on Monday in loc.
func PeriodFor(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	monday := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return Period(monday.Format(periodLayout))
}

// ParsePeriod validates a YYYY-MM-DD string that falls on a Monday.
func ParsePeriod(raw string) (Period, error) {
	t, err := time.Parse(periodLayout, raw)
	if err != nil {
		return "", fmt.Errorf("parse period %q: %w", raw, err)
	}
	if t.Weekday() != time.Monday {
		return "", fmt.Errorf("period %q is not a monday", raw)
	}
	return Period(raw), nil
}

// QuarterKey returns the calendar quarter of t in loc, e.g. "2025-Q1".
func QuarterKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return fmt.Sprintf("%d-Q%d", local.Year(), (int(local.Month())-1)/3+1)
}

// YearKey returns the calendar year of t in loc, e.g. "2025".
func YearKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%d", t.In(loc).Year())
}
