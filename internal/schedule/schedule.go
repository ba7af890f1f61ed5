// Package schedule implements the Schedule Cache, Window Evaluator, and
// Schedule Executor.
package schedule

import (
	"fmt"
	"time"
)

// MinOffSeconds is the floor applied to a schedule's OFF duration to
// prevent relay chatter.
const MinOffSeconds = 0.5

// Definition is one schedule attached to a pin.
type Definition struct {
	Enabled         bool
	StartTime       string // "HH:MM", empty means unset
	EndTime         string // "HH:MM", empty means unset
	DurationSeconds int
	OffSeconds      float64
	Description     string
	LastRunAt       time.Time
}

// Clamped returns a copy of d with OffSeconds floored to MinOffSeconds.
func (d Definition) Clamped() Definition {
	if d.OffSeconds < MinOffSeconds {
		d.OffSeconds = MinOffSeconds
	}
	return d
}

// InWindow reports whether now's local time-of-day falls within the
// schedule's window: a schedule with both times unset is always in-window;
// otherwise now must lie in the closed interval [start, end], where
// end < start is interpreted as crossing midnight.
func (d Definition) InWindow(now time.Time) bool {
	if d.StartTime == "" && d.EndTime == "" {
		return true
	}
	start, err := parseHHMM(d.StartTime)
	if err != nil {
		return false
	}
	end, err := parseHHMM(d.EndTime)
	if err != nil {
		return false
	}
	cur := minutesSinceMidnight(now)

	if end < start {
		// Crosses midnight: in-window if at or after start, or at or before end.
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}

func minutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseHHMM(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range time %q", s)
	}
	return h*60 + m, nil
}

// key identifies a schedule uniquely within the cache.
type key struct {
	Pin int
	ID  string
}
