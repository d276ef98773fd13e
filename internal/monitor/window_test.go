package monitor

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"9", 0, true},
		{"ab:cd", 0, true},
		{"-1:00", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestWindowDisabledAlwaysOpen(t *testing.T) {
	w := Window{}
	if !w.IsOpen(at(3, 0)) {
		t.Fatal("disabled window must always be open")
	}
}

func TestWindowSameDay(t *testing.T) {
	w := Window{Enabled: true, Start: 9 * 60, End: 18 * 60}

	if w.IsOpen(at(8, 59)) {
		t.Error("08:59 should be closed")
	}
	if !w.IsOpen(at(9, 0)) {
		t.Error("start boundary should be open")
	}
	if !w.IsOpen(at(17, 59)) {
		t.Error("17:59 should be open")
	}
	if w.IsOpen(at(18, 0)) {
		t.Error("end boundary should be closed")
	}
}

func TestWindowWrapsMidnight(t *testing.T) {
	w := Window{Enabled: true, Start: 20 * 60, End: 6 * 60}

	if !w.IsOpen(at(23, 0)) {
		t.Error("23:00 should be open in a 20:00-06:00 window")
	}
	if !w.IsOpen(at(2, 0)) {
		t.Error("02:00 should be open in a 20:00-06:00 window")
	}
	if w.IsOpen(at(10, 0)) {
		t.Error("10:00 should be closed in a 20:00-06:00 window")
	}
	if !w.IsOpen(at(20, 0)) {
		t.Error("start boundary should be open")
	}
	if w.IsOpen(at(6, 0)) {
		t.Error("end boundary should be closed")
	}
}

func TestWindowNextOpen(t *testing.T) {
	w := Window{Enabled: true, Start: 9 * 60, End: 18 * 60}

	now := at(10, 0)
	if got := w.NextOpen(now); !got.Equal(now) {
		t.Fatalf("open window should return now, got %s", got)
	}

	// before today's opening: today at start
	got := w.NextOpen(at(7, 30))
	want := at(9, 0)
	if !got.Equal(want) {
		t.Fatalf("NextOpen before start = %s, want %s", got, want)
	}

	// after close: tomorrow at start
	got = w.NextOpen(at(19, 0))
	want = at(9, 0).Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("NextOpen after end = %s, want %s", got, want)
	}
}

func TestWindowNextOpenWrapsMidnight(t *testing.T) {
	w := Window{Enabled: true, Start: 20 * 60, End: 6 * 60}

	// inside the wrapped window, before and after midnight
	now := at(23, 0)
	if got := w.NextOpen(now); !got.Equal(now) {
		t.Fatalf("open window should return now, got %s", got)
	}
	now = at(2, 0)
	if got := w.NextOpen(now); !got.Equal(now) {
		t.Fatalf("open window should return now, got %s", got)
	}

	// closed midday gap: today at start, not tomorrow
	got := w.NextOpen(at(10, 0))
	want := at(20, 0)
	if !got.Equal(want) {
		t.Fatalf("NextOpen in the gap = %s, want %s", got, want)
	}

	// right at the closing boundary: the same day's opening
	got = w.NextOpen(at(6, 0))
	if !got.Equal(want) {
		t.Fatalf("NextOpen at end = %s, want %s", got, want)
	}
}
