package models

import (
	"fmt"
	"time"
)

// DayLayout is the text form of a Day, matching the provider's "day" field.
const DayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day component. The zero Day is
// invalid and reports IsZero.
type Day struct {
	t time.Time
}

// NewDay returns the Day for the given year, month and day of month.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return NewDay(y, m, d)
}

// Today returns the current calendar date in the local time zone.
func Today() Day {
	return DayOf(time.Now())
}

// ParseDay parses a YYYY-MM-DD string. A full RFC 3339 timestamp is also
// accepted and truncated to its date as written.
func ParseDay(s string) (Day, error) {
	if t, err := time.Parse(DayLayout, s); err == nil {
		return DayOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DayOf(t), nil
	}
	return Day{}, fmt.Errorf("invalid day %q (want YYYY-MM-DD)", s)
}

// MustParseDay is like ParseDay but panics on error. Intended for tests and
// constant tables.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DayLayout)
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time { return d.t }

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool { return d.t.IsZero() }

// AddDays returns d shifted by n calendar days.
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }

// After reports whether d is strictly later than o.
func (d Day) After(o Day) bool { return d.t.After(o.t) }

// Equal reports whether d and o are the same calendar date.
func (d Day) Equal(o Day) bool { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after o.
func (d Day) Compare(o Day) int { return d.t.Compare(o.t) }

// Within reports whether d lies in the inclusive range [start, end].
func (d Day) Within(start, end Day) bool {
	return !d.Before(start) && !d.After(end)
}

// DaysUntil returns the number of calendar days from d to o.
func (d Day) DaysUntil(o Day) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
