/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeslot implements the interval arithmetic behind the schedule
// grid: daily slot generation, ordering, containment, overlap, counting,
// moving and merging of {Start, End} pairs.
//
// Every function is pure. Callers keep Start <= End; inverted slots are not
// rejected and give unspecified results.
package timeslot

import (
	"fmt"
	"time"
)

// Slot is a time slot on the schedule grid.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a slot from its boundaries.
func New(start, end time.Time) Slot {
	return Slot{Start: start, End: end}
}

// Duration returns End - Start.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// DurationMinutes returns the duration in whole minutes, truncated.
func (s Slot) DurationMinutes() int {
	return int(s.Duration() / time.Minute)
}

// In converts both boundaries to loc.
func (s Slot) In(loc *time.Location) Slot {
	return Slot{Start: s.Start.In(loc), End: s.End.In(loc)}
}

// UTC converts both boundaries to UTC.
func (s Slot) UTC() Slot {
	return s.In(time.UTC)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s-%s", s.Start.Format("15:04"), s.End.Format("15:04"))
}

// DayBounds returns local midnight of day and the end of that day
// (23:59:59.999 wall clock), both in day's location. Days with a DST
// transition are 23 or 25 hours long.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	loc := day.Location()
	return time.Date(y, m, d, 0, 0, 0, 0, loc),
		time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
}

// AtTimeOfDay returns the instant at "HH:MM" on day, in day's location.
func AtTimeOfDay(day time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of day %q: %w", hhmm, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

// GenerateDaily splits day into consecutive slots of intervalMinutes starting
// at local midnight. The last slot ends exactly at the end of the day, so it
// is shorter when the interval does not divide the day. A non-positive interval
// yields no slots.
func GenerateDaily(day time.Time, intervalMinutes int) []Slot {
	if intervalMinutes <= 0 {
		return nil
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	cursor, endOfDay := DayBounds(day)

	slots := make([]Slot, 0, int(endOfDay.Sub(cursor)/interval)+1)
	for cursor.Before(endOfDay) {
		next := cursor.Add(interval)
		if next.After(endOfDay) {
			next = endOfDay
		}
		slots = append(slots, Slot{Start: cursor, End: next})
		cursor = next
	}
	return slots
}

// Daily returns the slots of day whose start lies within [start, end]. Unless
// includeEndSlot is set, a slot must also end at or before end; with it, the
// slot anchored exactly at end is kept as well.
func Daily(day, start, end time.Time, intervalMinutes int, includeEndSlot bool) []Slot {
	all := GenerateDaily(day, intervalMinutes)
	out := make([]Slot, 0, len(all))
	for _, slot := range all {
		if slot.Start.Before(start) || slot.Start.After(end) {
			continue
		}
		if !includeEndSlot && slot.End.After(end) {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// IsAfter reports whether a starts strictly after b. End times are ignored.
func IsAfter(a, b Slot) bool {
	return a.Start.After(b.Start)
}

// HaveSameStart reports whether a and b start at the same instant.
func HaveSameStart(a, b Slot) bool {
	return a.Start.Equal(b.Start)
}

// IsIncluded reports whether slot lies within container, both boundaries
// inclusive. A nil container includes nothing.
func IsIncluded(slot Slot, container *Slot) bool {
	if container == nil {
		return false
	}
	return !slot.Start.Before(container.Start) && !slot.End.After(container.End)
}

// AreOverlapping reports whether a and b share time. Slots that only touch
// (one ends when the other starts) do not overlap.
func AreOverlapping(a, b Slot) bool {
	disjoint := !a.End.After(b.Start) || !a.Start.Before(b.End)
	return !disjoint
}

// CountIntervals returns how many whole intervals fit in slot.
func CountIntervals(slot Slot, intervalMinutes int) int {
	if intervalMinutes <= 0 {
		return 0
	}
	return slot.DurationMinutes() / intervalMinutes
}

// MoveStart relocates slot to start at newStart, keeping its duration.
func MoveStart(slot Slot, newStart time.Time) Slot {
	return Slot{Start: newStart, End: newStart.Add(slot.Duration())}
}

// Merge bridges two slots from the earlier start to the end of the
// later-starting slot. It is not a union: when the later-starting slot ends
// first, its end is still used. Drag selections always satisfy
// "later start, later or equal end", which is what this is for.
func Merge(a, b Slot) Slot {
	if IsAfter(a, b) {
		return Slot{Start: b.Start, End: a.End}
	}
	return Slot{Start: a.Start, End: b.End}
}
