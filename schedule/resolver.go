/*
resolver.go - Point-in-time resolution against the schedule history

PURPOSE:
  Answers "which schedule version was in effect on date D?" and "what slots
  were scheduled on date D?". These two lookups are the foundation of every
  historical statistic: the monthly aggregator replays them for each day so
  that editing a schedule today never rewrites last month's numbers.

CONTRACT:
  Resolve(entries, date):
    - date is normalized to day granularity before comparison
    - an entry matches when date >= effectiveFrom and
      (effectiveTo == nil or date <= effectiveTo), both ends inclusive
    - the non-overlap invariant means at most one entry should match;
      if more than one does (corrupted data) the FIRST match in list order
      wins, deterministically, and the anomaly is logged
    - pure: no side effects beyond the anomaly log

  SlotsForDate composes Resolve with a weekday filter and always returns a
  non-nil slice.

SEE ALSO:
  - types.go: Entry and Slot definitions
  - stats/monthly.go: per-day replay consumer
*/
package schedule

import (
	"log"
	"time"
)

// Resolve returns the schedule entry effective on the given date, or nil if
// no entry covers it. First match in list order wins when the non-overlap
// invariant is violated.
func Resolve(entries []Entry, date time.Time) *Entry {
	day := Midnight(date)

	var found *Entry
	matches := 0
	for i := range entries {
		e := &entries[i]
		if day.Before(Midnight(e.EffectiveFrom)) {
			continue
		}
		if e.EffectiveTo != nil && day.After(Midnight(*e.EffectiveTo)) {
			continue
		}
		matches++
		if found == nil {
			found = e
		}
	}

	if matches > 1 {
		// Non-overlap invariant violated. Resolution stays deterministic
		// (first match) but this is a data-integrity event worth surfacing.
		log.Printf("schedule: %d entries overlap on %s, using first match", matches, day.Format("2006-01-02"))
	}

	return found
}

// SlotsForDate returns every slot scheduled on the given date, resolving the
// entry effective that day and filtering by weekday. Returns an empty slice,
// never nil, when nothing is scheduled.
func SlotsForDate(entries []Entry, date time.Time) []Slot {
	slots := []Slot{}
	entry := Resolve(entries, date)
	if entry == nil {
		return slots
	}
	day := DayOf(date)
	for _, sl := range entry.Slots {
		if sl.Day == day {
			slots = append(slots, sl)
		}
	}
	return slots
}

// NewHistory seeds a subject's schedule history with a single open entry
// effective from the given date.
func NewHistory(slots []Slot, from time.Time) []Entry {
	return []Entry{{
		Slots:         slots,
		EffectiveFrom: Midnight(from),
		EffectiveTo:   nil,
	}}
}

// ApplyEdit records a schedule change at editDate: the open entry (if any)
// is closed with effectiveTo = editDate - 1 day and a new open entry with
// the new slot set is appended. Closed entries are never touched.
//
// If the open entry became effective on editDate itself (same-day re-edit),
// closing it at editDate-1 would produce an empty range; in that case the
// open entry is replaced instead of closed, since it never governed a full
// historical day.
func ApplyEdit(entries []Entry, slots []Slot, editDate time.Time) []Entry {
	day := Midnight(editDate)

	out := make([]Entry, 0, len(entries)+1)
	for _, e := range entries {
		if !e.Open() {
			out = append(out, e)
			continue
		}
		if SameDay(e.EffectiveFrom, day) {
			// Same-day re-edit: drop the entry that never spanned a day.
			continue
		}
		yesterday := day.AddDate(0, 0, -1)
		closed := e
		closed.EffectiveTo = &yesterday
		out = append(out, closed)
	}

	out = append(out, Entry{
		Slots:         slots,
		EffectiveFrom: day,
		EffectiveTo:   nil,
	})
	return out
}
