package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used on every external surface
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// ParseDateRange parses two YYYY-MM-DD strings into a validated range
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, NewValidationError("start_date", start, "format", "expected YYYY-MM-DD")
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, NewValidationError("end_date", end, "format", "expected YYYY-MM-DD")
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// LastDays returns the window ending today and starting n days earlier
func LastDays(n int, now time.Time) DateRange {
	end := TruncateDate(now)
	return DateRange{Start: end.AddDate(0, 0, -n), End: end}
}

// Validate rejects empty or inverted ranges
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewValidationError("date_range", nil, "required", "start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return NewValidationError("date_range", r.String(), "order", "end date is before start date")
	}
	return nil
}

// Days returns the number of calendar days covered, both ends included
func (r DateRange) Days() int {
	return DaysBetween(r.Start, r.End) + 1
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// TruncateDate drops the time of day, keeping the calendar date in UTC
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b
func DaysBetween(a, b time.Time) int {
	diff := TruncateDate(a).Sub(TruncateDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}
