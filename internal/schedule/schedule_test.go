package schedule

import (
	"testing"
	"time"
)

func TestParseAcceptedLayouts(t *testing.T) {
	cases := []struct {
		date, clock string
	}{
		{"2025-03-14", "09:30"},
		{"14-03-2025", "9:30 AM"},
		{"14/03/2025", "09:30:00"},
		{"March 14, 2025", "9:30AM"},
	}
	for _, c := range cases {
		got, err := Parse(c.date, c.clock, time.UTC)
		if err != nil {
			t.Fatalf("Parse(%q, %q): %v", c.date, c.clock, err)
		}
		want := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("Parse(%q, %q) = %v, want %v", c.date, c.clock, got, want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		date, clock string
	}{
		{"", "09:30"},
		{"2025-03-14", ""},
		{"soon", "09:30"},
		{"2025-03-14", "morning"},
	}
	for _, c := range cases {
		if _, err := Parse(c.date, c.clock, time.UTC); err != ErrMalformed {
			t.Fatalf("Parse(%q, %q): expected ErrMalformed, got %v", c.date, c.clock, err)
		}
	}
}
