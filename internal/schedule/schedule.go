// Package schedule parses the lenient wall-clock date/time pairs that
// bookings carry. Upstream data entry is messy, so several layouts are
// accepted; anything else is an explicit ErrMalformed, never a guess.
package schedule

import (
	"errors"
	"strings"
	"time"
)

var ErrMalformed = errors.New("malformed schedule")

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"January 2, 2006",
}

var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
}

// Parse resolves a date and time string pair into an instant in loc.
// Either field failing every accepted layout yields ErrMalformed.
func Parse(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, ErrMalformed
	}

	var d time.Time
	var err error
	ok := false
	for _, l := range dateLayouts {
		if d, err = time.ParseInLocation(l, date, loc); err == nil {
			ok = true
			break
		}
	}
	if !ok {
		return time.Time{}, ErrMalformed
	}

	ok = false
	var c time.Time
	for _, l := range timeLayouts {
		if c, err = time.Parse(l, strings.ToUpper(clock)); err == nil {
			ok = true
			break
		}
	}
	if !ok {
		return time.Time{}, ErrMalformed
	}

	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc), nil
}
