package monitor

import (
	"testing"
	"time"
)

func TestTriggerShouldRun(t *testing.T) {
	trigger := Trigger{HourlyMinute: 0, DailyHour: 9, DailyMinute: 30}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"hourly top of hour", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), true},
		{"daily schedule", time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC), true},
		{"daily minute wrong hour", time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC), false},
		{"ordinary minute", time.Date(2026, 3, 10, 14, 7, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		if got := trigger.ShouldRun(tc.now); got != tc.want {
			t.Errorf("%s: ShouldRun = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestTriggerIdempotentWithinMinute(t *testing.T) {
	trigger := Trigger{HourlyMinute: 15}
	now := time.Date(2026, 3, 10, 14, 15, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !trigger.ShouldRun(now.Add(time.Duration(i) * time.Second)) {
			t.Fatal("ShouldRun must be stable within the same minute")
		}
	}
}
