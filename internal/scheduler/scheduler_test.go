package scheduler

import (
	"testing"
	"time"
)

func TestNextMinute(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 30, 15, 0, time.UTC)
	got := nextMinute(now)
	want := time.Date(2026, 3, 10, 12, 31, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("nextMinute = %s, want %s", got, want)
	}

	// exactly on a boundary advances to the next one
	got = nextMinute(want)
	if !got.Equal(want.Add(time.Minute)) {
		t.Fatalf("nextMinute on boundary = %s", got)
	}
}
