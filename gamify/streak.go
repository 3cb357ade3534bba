/*
streak.go - Pure streak evaluation

PURPOSE:
  A streak is the count of consecutive calendar days with at least one
  "present" mark. EvaluateStreak is a pure function of (last attendance
  date, today, current counters): it decides whether the streak continues,
  resets, or is a same-day no-op, and what milestone bonus (if any) is due.

  The caller persists the returned values and awards the bonus through the
  XP primitive. Keeping the evaluator side-effect free makes the milestone
  semantics directly testable.

RULES:
  - last == today:      no-op (already credited today), bonus 0
  - last == yesterday:  streak + 1
  - otherwise:          reset to 1 (gap of 2+ days, or first ever mark)
  - longest is a high-water mark, never decremented
*/
package gamify

import "time"

// StreakResult is the outcome of one streak evaluation.
type StreakResult struct {
	Streak  int
	Longest int
	Bonus   int

	// Continued is false for the same-day no-op case; the caller skips
	// persisting lastAttendanceDate when nothing changed.
	Continued bool
}

// EvaluateStreak computes the next streak state for a "present" mark on
// today. last is nil for a user who has never attended.
func EvaluateStreak(last *time.Time, today time.Time, current, longest int) StreakResult {
	if last != nil && sameDay(*last, today) {
		return StreakResult{Streak: current, Longest: longest, Bonus: 0, Continued: false}
	}

	next := 1
	if last != nil && sameDay(*last, today.AddDate(0, 0, -1)) {
		next = current + 1
	}

	newLongest := longest
	if next > newLongest {
		newLongest = next
	}

	return StreakResult{
		Streak:    next,
		Longest:   newLongest,
		Bonus:     StreakBonus(next),
		Continued: true,
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
