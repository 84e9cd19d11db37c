package mot

import (
	"fmt"
	"strings"
	"time"
)

// compactDateLayout is the YYYYMMDD form used by the date query parameter.
const compactDateLayout = "20060102"

// completedDateLayouts lists the completion date forms accepted from the
// API, most common first.
var completedDateLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CalendarDate is a day without a time component.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseCompactDate parses a YYYYMMDD date filter.
func ParseCompactDate(s string) (CalendarDate, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(compactDateLayout) {
		return CalendarDate{}, fmt.Errorf("invalid date %q: expected YYYYMMDD", s)
	}

	t, err := time.Parse(compactDateLayout, s)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// Matches reports whether t falls on the same calendar day.
func (d CalendarDate) Matches(t time.Time) bool { return DateOf(t) == d }

// String renders the date in its compact YYYYMMDD form.
func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// ParseCompletedDate parses a test completion date in any of the forms the
// API is known to emit.
func ParseCompletedDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty completion date")
	}

	for _, layout := range completedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized completion date %q", s)
}
