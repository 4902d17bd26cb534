package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used for partitions, artifact keys
// and API payloads.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates that start <= end and returns the inclusive range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidRange, FormatDate(start), FormatDate(end))
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns every date in the range in ascending order.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, 0, r.Len())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len returns the number of days in the range.
func (r DateRange) Len() int {
	if r.Start.IsZero() && r.End.IsZero() {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) String() string {
	return FormatDate(r.Start) + ".." + FormatDate(r.End)
}
