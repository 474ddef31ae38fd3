package billing

import (
	"fmt"
	"strings"
	"time"
)

// DayCountPolicy decides how many days of supply charge a range incurs.
type DayCountPolicy int

const (
	// DayCountCeil bills every calendar date the range touches.
	DayCountCeil DayCountPolicy = iota
	// DayCountFloor bills only calendar dates the range covers completely.
	DayCountFloor
)

func (p DayCountPolicy) String() string {
	switch p {
	case DayCountCeil:
		return "ceil"
	case DayCountFloor:
		return "floor"
	}
	return fmt.Sprintf("DayCountPolicy(%d)", int(p))
}

// ParseDayCountPolicy accepts "ceil" or "floor"; empty means ceil.
func ParseDayCountPolicy(s string) (DayCountPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ceil", "ceiling":
		return DayCountCeil, nil
	case "floor":
		return DayCountFloor, nil
	}
	return 0, fmt.Errorf("unknown day count policy %q", s)
}

// WholeDays counts the billable days in [start, end). Both policies give
// N for a range of N midnight-aligned days.
func (p DayCountPolicy) WholeDays(start, end time.Time) int {
	if !start.Before(end) {
		return 0
	}
	switch p {
	case DayCountFloor:
		first := civilDate(start)
		if !start.Equal(wallMidnight(start)) {
			first = first.AddDate(0, 0, 1)
		}
		last := civilDate(end)
		if n := daysBetween(first, last); n > 0 {
			return n
		}
		return 0
	default:
		first := civilDate(start)
		last := civilDate(end.Add(-time.Nanosecond))
		return daysBetween(first, last) + 1
	}
}

// civilDate is the wall-clock date of t as midnight UTC.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func wallMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
