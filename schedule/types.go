/*
Package schedule models a subject's recurring weekly schedule as a
time-versioned history of entries.

PURPOSE:
  A subject (a class, a course, any recurring tracked activity) meets on a
  weekly pattern of (day, session-number) slots. That pattern changes over
  time: a class moves from Monday to Wednesday, gains a second session,
  drops a day. If we simply overwrote the slot set, every past month's
  statistics would silently recompute against the NEW pattern.

  Instead the schedule is an append-only list of Entry values, each valid
  for a date range. Editing never mutates a closed entry: the currently
  open entry is closed (effectiveTo = edit date - 1 day) and a new open
  entry is appended.

KEY CONCEPTS IN THIS FILE (types.go):
  - Day: one of the seven weekday tokens (Mon..Sun)
  - Slot: a single (day, sessionNumber) occurrence with optional HH:MM times
  - Entry: one time-bounded version of the weekly slot configuration
  - Subject: the tracked activity owning the schedule history

DESIGN PRINCIPLES:
  1. Append-only history: closed entries are never edited
  2. Day granularity: range comparisons normalize time-of-day away
  3. At most one open entry (EffectiveTo == nil) per subject

SEE ALSO:
  - resolver.go: point-in-time resolution against the history
  - conflict.go: cross-subject (day, session) conflict detection
*/
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// WEEKDAY TOKENS
// =============================================================================

// Day is a weekday token. The wire format and the store both use the
// three-letter form.
type Day string

const (
	Mon Day = "Mon"
	Tue Day = "Tue"
	Wed Day = "Wed"
	Thu Day = "Thu"
	Fri Day = "Fri"
	Sat Day = "Sat"
	Sun Day = "Sun"
)

// weekdayTokens maps time.Weekday onto our fixed 7-token enumeration.
var weekdayTokens = map[time.Weekday]Day{
	time.Monday:    Mon,
	time.Tuesday:   Tue,
	time.Wednesday: Wed,
	time.Thursday:  Thu,
	time.Friday:    Fri,
	time.Saturday:  Sat,
	time.Sunday:    Sun,
}

// DayOf returns the weekday token for a date.
func DayOf(t time.Time) Day {
	return weekdayTokens[t.Weekday()]
}

// ValidDay reports whether s is one of the seven tokens.
func ValidDay(s string) bool {
	switch Day(s) {
	case Mon, Tue, Wed, Thu, Fri, Sat, Sun:
		return true
	}
	return false
}

// =============================================================================
// DATE HELPERS - Day granularity normalization
// =============================================================================

// Midnight truncates a time to day granularity in UTC. All schedule range
// comparisons and attendance keys operate on midnight-normalized dates.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// SLOT - One (day, sessionNumber) occurrence
// =============================================================================

// Slot is a single scheduled occurrence within an Entry. SessionNumber
// distinguishes multiple sessions on the same day and is the unit of
// cross-subject conflict detection. StartTime/EndTime are HH:MM wall-clock
// strings carried for display; the accounting core ignores them.
type Slot struct {
	Day           Day    `json:"day"`
	SessionNumber int    `json:"sessionNumber"`
	StartTime     string `json:"startTime,omitempty"`
	EndTime       string `json:"endTime,omitempty"`
}

func (s Slot) key() string {
	return fmt.Sprintf("%s#%d", s.Day, s.SessionNumber)
}

// =============================================================================
// ENTRY - One time-bounded version of the weekly configuration
// =============================================================================

// Entry holds the slot set that is authoritative for the inclusive date
// range [EffectiveFrom, EffectiveTo]. EffectiveTo == nil means open-ended,
// currently in effect.
type Entry struct {
	Slots         []Slot     `json:"slots"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo"`
}

// Open reports whether this is the currently-open entry.
func (e Entry) Open() bool { return e.EffectiveTo == nil }

// =============================================================================
// SUBJECT
// =============================================================================

// Subject is a recurring tracked activity owned by a single user.
// IsActive=false is a soft delete: the subject stops appearing in future
// scheduling but its history stays queryable so past aggregation keeps
// working.
type Subject struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	IsActive  bool      `json:"isActive"`
	Schedules []Entry   `json:"schedules"`
	CreatedAt time.Time `json:"createdAt"`
}

// CurrentEntry returns the open schedule entry, or nil if none exists
// (which only happens on corrupted data; creation always seeds one).
func (s *Subject) CurrentEntry() *Entry {
	for i := range s.Schedules {
		if s.Schedules[i].Open() {
			return &s.Schedules[i]
		}
	}
	return nil
}

// ActiveDays returns the distinct weekday tokens of the open entry.
func (s *Subject) ActiveDays() []Day {
	cur := s.CurrentEntry()
	if cur == nil {
		return nil
	}
	seen := make(map[Day]bool)
	var days []Day
	for _, slot := range cur.Slots {
		if !seen[slot.Day] {
			seen[slot.Day] = true
			days = append(days, slot.Day)
		}
	}
	return days
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	// ErrEmptySlots is returned when a schedule entry has no slots.
	ErrEmptySlots = errors.New("schedule entry must have at least one slot")

	// ErrDuplicateSlot is returned when one entry claims the same
	// (day, sessionNumber) pair twice.
	ErrDuplicateSlot = errors.New("duplicate (day, sessionNumber) slot in entry")

	// ErrInvalidSlot is returned for a malformed slot (bad day token or
	// non-positive session number).
	ErrInvalidSlot = errors.New("invalid slot")
)

// ValidateSlots checks the shape invariants of a slot set before it becomes
// an entry: non-empty, valid day tokens, positive session numbers, no
// duplicate (day, sessionNumber) pairs.
func ValidateSlots(slots []Slot) error {
	if len(slots) == 0 {
		return ErrEmptySlots
	}
	seen := make(map[string]bool, len(slots))
	for _, sl := range slots {
		if !ValidDay(string(sl.Day)) {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidSlot, sl.Day)
		}
		if sl.SessionNumber < 1 {
			return fmt.Errorf("%w: sessionNumber %d must be >= 1", ErrInvalidSlot, sl.SessionNumber)
		}
		if seen[sl.key()] {
			return fmt.Errorf("%w: %s session %d", ErrDuplicateSlot, sl.Day, sl.SessionNumber)
		}
		seen[sl.key()] = true
	}
	return nil
}
