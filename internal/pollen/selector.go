package pollen

import (
	"fmt"
	"time"
)

// DateLayout is the forecast date format. Z0700 accepts both "+0000" and "Z".
const DateLayout = "2006-01-02T15:04:05Z0700"

// ParseDate parses a forecast date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing forecast date %q: %w", s, err)
	}
	return t, nil
}

// Selection is the day picked for display and whether it actually matched today.
type Selection struct {
	Day DayForecast

	// Matched is false when no entry fell on today and the first entry was used.
	Matched bool
}

// Select picks the first day on today's calendar date in today's location,
// falling back to the first day. Unparseable dates never match.
func Select(f *Forecast, today time.Time) (Selection, error) {
	if f == nil || len(f.Days) == 0 {
		return Selection{}, ErrEmptyForecast
	}

	loc := today.Location()
	y, m, d := today.Date()
	for _, day := range f.Days {
		t, err := ParseDate(day.Date)
		if err != nil {
			continue
		}
		dy, dm, dd := t.In(loc).Date()
		if dy == y && dm == m && dd == d {
			return Selection{Day: day, Matched: true}, nil
		}
	}

	return Selection{Day: f.Days[0]}, nil
}

// SelectCurrent returns the day to show for today.
func SelectCurrent(f *Forecast, today time.Time) (DayForecast, error) {
	sel, err := Select(f, today)
	if err != nil {
		return DayForecast{}, err
	}
	return sel.Day, nil
}
