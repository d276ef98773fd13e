package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window restricts dispatches to a time-of-day interval, half-open
// [Start, End) in minutes of day. Start > End wraps midnight. A disabled
// window is always open.
type Window struct {
	Enabled bool
	Start   int
	End     int
}

// ParseClock converts "HH:MM" to minutes of day. "24:00" is accepted as the
// end-of-day boundary (1440).
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if hours == 24 && minutes == 0 {
		return 24 * 60, nil
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hours*60 + minutes, nil
}

// IsOpen reports whether dispatches are permitted at now. The window is open
// at Start and closed at End, including the wrapped case.
func (w Window) IsOpen(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if w.Start <= w.End {
		return cur >= w.Start && cur < w.End
	}
	// wrapped interval, e.g. 20:00-06:00
	return cur >= w.Start || cur < w.End
}

// NextOpen returns the next instant at which IsOpen becomes true. If the
// window is already open it returns now unchanged.
func (w Window) NextOpen(now time.Time) time.Time {
	if w.IsOpen(now) {
		return now
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	open := midnight.Add(time.Duration(w.Start) * time.Minute)
	if !open.After(now) {
		open = open.Add(24 * time.Hour)
	}
	return open
}
