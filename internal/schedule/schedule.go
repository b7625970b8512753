// Package schedule parses daily work-hour windows such as "08:00-18:30" or
// "22:00-06:00". A window whose end is earlier than its start runs past
// midnight. The end minute is inclusive.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hh))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h >= 24 || m < 0 || m >= 60 {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Window is a daily range of allowed working time.
type Window struct {
	From  Clock
	Until Clock
}

// Parse parses "HH:MM-HH:MM".
func Parse(s string) (*Window, error) {
	from, until, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("invalid schedule %q: want HH:MM-HH:MM", s)
	}
	f, err := ParseClock(from)
	if err != nil {
		return nil, err
	}
	u, err := ParseClock(until)
	if err != nil {
		return nil, err
	}
	return &Window{From: f, Until: u}, nil
}

func (w *Window) String() string {
	return w.From.String() + "-" + w.Until.String()
}

// Contains reports whether now falls inside the window, in now's location.
func (w *Window) Contains(now time.Time) bool {
	m := now.Hour()*60 + now.Minute()
	from, until := w.From.minutes(), w.Until.minutes()
	if from <= until {
		return m >= from && m <= until
	}
	return m >= from || m <= until
}
