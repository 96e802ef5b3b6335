package planner

import (
	"testing"
	"time"
)

// 2025-06-02 is a Monday, 2025-06-07 a Saturday.
func mon(hour, min int) time.Time {
	return time.Date(2025, 6, 2, hour, min, 0, 0, time.UTC)
}

func TestNextEligibleTimeSameDay(t *testing.T) {
	t.Parallel()
	p := Default()

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before first slot", mon(8, 0), mon(9, 0)},
		{"between slots", mon(10, 30), mon(13, 0)},
		{"inside slot hour picks next", mon(9, 5), mon(13, 0)},
		{"before last slot", mon(16, 59), mon(17, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NextEligibleTime(tt.now, p)
			if !got.Equal(tt.want) {
				t.Fatalf("NextEligibleTime(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNextEligibleTimeRollover(t *testing.T) {
	t.Parallel()
	p := Default()

	// Monday 18:00 -> Tuesday 09:00.
	got := NextEligibleTime(mon(18, 0), p)
	want := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("weekday rollover = %v, want %v", got, want)
	}

	// Friday 18:00 -> Saturday 11:00 (weekend slots apply).
	fri := time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)
	got = NextEligibleTime(fri, p)
	want = time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("friday rollover = %v, want %v", got, want)
	}

	// Sunday 16:00 -> Monday 09:00.
	sun := time.Date(2025, 6, 8, 16, 0, 0, 0, time.UTC)
	got = NextEligibleTime(sun, p)
	want = time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("sunday rollover = %v, want %v", got, want)
	}
}

func TestNextEligibleTimeSkipsEmptyDayTypes(t *testing.T) {
	t.Parallel()
	p := Policy{WeekdaySlots: []int{9}, Nudge: 15 * time.Minute}

	// Saturday has no slots; Sunday neither. Land on Monday 09:00.
	sat := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	got := NextEligibleTime(sat, p)
	want := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("empty day-type skip = %v, want %v", got, want)
	}
}

func TestNextEligibleTimeAvoidNudge(t *testing.T) {
	t.Parallel()
	p := Policy{
		WeekdaySlots: []int{7, 13},
		WeekendSlots: []int{7},
		Avoid:        []HourRange{{Start: 6, End: 8}},
		Nudge:        15 * time.Minute,
	}

	got := NextEligibleTime(mon(5, 0), p)
	want := mon(7, 15)
	if !got.Equal(want) {
		t.Fatalf("avoid nudge = %v, want %v", got, want)
	}

	// Slot outside the avoid window is untouched.
	got = NextEligibleTime(mon(8, 0), p)
	if !got.Equal(mon(13, 0)) {
		t.Fatalf("clean slot = %v, want %v", got, mon(13, 0))
	}
}

func TestNextEligibleTimeAvoidBoundaries(t *testing.T) {
	t.Parallel()
	// Half-open window: 8 is out, 6 is in.
	r := HourRange{Start: 6, End: 8}
	if !r.contains(6) || !r.contains(7) {
		t.Fatal("window must contain its start hours")
	}
	if r.contains(8) {
		t.Fatal("window end is exclusive")
	}
}

func TestNextEligibleTimePure(t *testing.T) {
	t.Parallel()
	p := Default()
	now := mon(10, 0)

	a := NextEligibleTime(now, p)
	b := NextEligibleTime(now, p)
	if !a.Equal(b) {
		t.Fatalf("same input must yield same output: %v vs %v", a, b)
	}
	if a.Location() != now.Location() {
		t.Fatal("result must stay in the caller's location")
	}
}

func TestNextEligibleTimeEmptyPolicyDefaults(t *testing.T) {
	t.Parallel()
	// An empty policy falls back to the default slots.
	p := Policy{}
	got := NextEligibleTime(mon(8, 0), p)
	if !got.Equal(mon(9, 0)) {
		t.Fatalf("empty policy should use defaults: %v", got)
	}
}
