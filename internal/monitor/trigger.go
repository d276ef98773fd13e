package monitor

import "time"

// Trigger gates minute ticks into evaluation cycles. A cycle runs when the
// current minute matches the hourly offset, or when (hour, minute) matches
// the daily schedule.
type Trigger struct {
	HourlyMinute int
	DailyHour    int
	DailyMinute  int
}

// ShouldRun reports whether a cycle should run at the given instant. Pure
// and idempotent; safe to call repeatedly within the same minute.
func (t Trigger) ShouldRun(now time.Time) bool {
	if now.Minute() == t.HourlyMinute {
		return true
	}
	return now.Hour() == t.DailyHour && now.Minute() == t.DailyMinute
}
