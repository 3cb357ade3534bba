/*
Package gamify holds the XP economy: award constants, streak evaluation,
and attendance-percentage math.

PURPOSE:
  Every XP figure in the system traces back to the constants in this file.
  The amount granted at mark time is STORED on the originating record, and
  reversal always uses the stored figure - never a recomputation - so these
  constants can change without corrupting totals that were earned under the
  old values.

KEY CONCEPTS:
  - XPAttendanceMark: base award for a "present" mark
  - XPFocusSession: award for a completed focus session
  - Streak milestone bonuses: granted when a streak FIRST reaches a
    milestone length, exact match only, non-cumulative

SEE ALSO:
  - streak.go: the pure streak evaluator
  - attendance/service.go: the only code path that awards/reverses mark XP
*/
package gamify

import "github.com/shopspring/decimal"

// XP award constants.
const (
	XPAttendanceMark = 10
	XPFocusSession   = 5

	XPStreak7   = 20
	XPStreak30  = 50
	XPStreak100 = 100
)

// StreakBonus returns the milestone bonus for a streak length. Bonuses fire
// only on the exact milestone value: a streak of 8 earns nothing, and
// reaching 30 does not re-award the 7-day bonus.
func StreakBonus(streak int) int {
	switch streak {
	case 100:
		return XPStreak100
	case 30:
		return XPStreak30
	case 7:
		return XPStreak7
	}
	return 0
}

var hundred = decimal.NewFromInt(100)

// AttendancePercentage returns round(100 * attended / scheduled), and 0 when
// nothing was scheduled.
func AttendancePercentage(attended, scheduled int) int {
	if scheduled == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(attended)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(scheduled))).
		Round(0)
	return int(pct.IntPart())
}
