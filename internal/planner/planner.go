// Package planner computes the next eligible publish time from an
// active-hours policy. NextEligibleTime is a pure function of (now, policy) —
// no clock reads, no hidden state — so it is trivially testable.
package planner

import (
	"sort"
	"time"
)

// HourRange is a half-open [Start, End) hour-of-day window.
type HourRange struct {
	Start int
	End   int
}

func (r HourRange) contains(hour int) bool { return hour >= r.Start && hour < r.End }

// Policy enumerates preferred publish slots per day-type plus saturation
// windows to nudge away from.
type Policy struct {
	// WeekdaySlots/WeekendSlots are preferred hours of day, e.g. [9, 13, 17].
	WeekdaySlots []int
	WeekendSlots []int

	// Avoid lists saturation windows. A slot falling inside one is not
	// skipped; it gets a small fixed Nudge instead (deliberate de-clustering,
	// not a hard constraint).
	Avoid []HourRange
	Nudge time.Duration
}

// Default mirrors the historical UK business-hours policy.
func Default() Policy {
	return Policy{
		WeekdaySlots: []int{9, 13, 17},
		WeekendSlots: []int{11, 15},
		Avoid: []HourRange{
			{Start: 6, End: 8},   // early morning
			{Start: 19, End: 21}, // dinner time
		},
		Nudge: 15 * time.Minute,
	}
}

func (p Policy) withDefaults() Policy {
	if len(p.WeekdaySlots) == 0 && len(p.WeekendSlots) == 0 {
		def := Default()
		p.WeekdaySlots = def.WeekdaySlots
		p.WeekendSlots = def.WeekendSlots
	}
	if p.Nudge <= 0 {
		p.Nudge = 15 * time.Minute
	}
	return p
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (p Policy) slotsFor(t time.Time) []int {
	slots := p.WeekdaySlots
	if isWeekend(t) {
		slots = p.WeekendSlots
	}
	out := append([]int(nil), slots...)
	sort.Ints(out)
	return out
}

// NextEligibleTime returns the earliest configured slot strictly after now's
// hour on the same day-type; when none remains today it rolls over to the
// first slot of the next day's day-type. A slot inside an avoid window is
// nudged forward by the policy's fixed offset.
func NextEligibleTime(now time.Time, p Policy) time.Time {
	p = p.withDefaults()

	candidate := time.Time{}
	for _, slot := range p.slotsFor(now) {
		if slot > now.Hour() {
			candidate = atHour(now, slot)
			break
		}
	}

	if candidate.IsZero() {
		// Roll over, skipping day-types with no configured slots.
		day := now.AddDate(0, 0, 1)
		for i := 0; i < 7; i++ {
			slots := p.slotsFor(day)
			if len(slots) > 0 {
				candidate = atHour(day, slots[0])
				break
			}
			day = day.AddDate(0, 0, 1)
		}
		if candidate.IsZero() {
			// No slots anywhere; publish immediately rather than never.
			return now
		}
	}

	for _, r := range p.Avoid {
		if r.contains(candidate.Hour()) {
			candidate = candidate.Add(p.Nudge)
			break
		}
	}
	return candidate
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
