package studiotime

import (
	"testing"
	"time"
)

func TestStartOfDayCrossesUTCBoundary(t *testing.T) {
	t.Parallel()

	clock := NewClock(7)

	// 20:30 UTC on Jan 1 is already 03:30 on Jan 2 at UTC+7.
	instant := time.Date(2025, time.January, 1, 20, 30, 0, 0, time.UTC)
	got := clock.StartOfDay(instant)
	want := time.Date(2025, time.January, 1, 17, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("start of day = %v, want %v", got, want)
	}
}

func TestAtCombinesDateAndWallClock(t *testing.T) {
	t.Parallel()

	clock := NewClock(7)
	day := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	got, err := clock.At(day, "18:45")
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	// 18:45 local at UTC+7 is 11:45 UTC.
	want := time.Date(2025, time.March, 10, 11, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("at = %v, want %v", got, want)
	}
}

func TestAtRejectsMalformedWallClock(t *testing.T) {
	t.Parallel()

	clock := NewClock(7)
	day := time.Now()

	for _, wall := range []string{"", "18", "25:00", "10:61", "aa:bb"} {
		if _, err := clock.At(day, wall); err == nil {
			t.Fatalf("expected error for %q", wall)
		}
	}
}

func TestWeekdayUsesLocalOffset(t *testing.T) {
	t.Parallel()

	clock := NewClock(7)

	// 22:00 UTC Sunday is already Monday at UTC+7.
	instant := time.Date(2025, time.January, 5, 22, 0, 0, 0, time.UTC)
	if got := clock.Weekday(instant); got != time.Monday {
		t.Fatalf("weekday = %v, want Monday", got)
	}
}

func TestSameDay(t *testing.T) {
	t.Parallel()

	clock := NewClock(7)
	a := time.Date(2025, time.June, 1, 16, 59, 0, 0, time.UTC)
	b := time.Date(2025, time.June, 1, 17, 1, 0, 0, time.UTC)
	if clock.SameDay(a, b) {
		t.Fatal("expected instants to land on different local days")
	}
}
