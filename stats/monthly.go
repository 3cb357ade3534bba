/*
Package stats produces the monthly rollup: per-day heatmap data, per-subject
breakdown, and the month's attendance rate.

PURPOSE:
  Read-only. For every calendar day in the month the aggregator REPLAYS the
  schedule history (schedule.Resolve) to count what was scheduled THAT day,
  under the schedule version in effect that day. It never reads a subject's
  current slot configuration - that is what keeps past months' statistics
  stable when a schedule is edited today.

SUBJECT SET:
  Active subjects always participate. Inactive (soft-deleted) subjects
  participate only when they have ledger rows inside the month - their
  history still explains those rows.

SEE ALSO:
  - schedule/resolver.go: the per-day resolution being replayed
  - gamify/xp.go: attendance-rate rounding
*/
package stats

import (
	"context"
	"time"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/user"
)

const dayKeyFormat = "2006-01-02"

// DayStat is one heatmap cell.
type DayStat struct {
	Scheduled    int `json:"scheduled"`
	Attended     int `json:"attended"`
	XP           int `json:"xp"`
	FocusMinutes int `json:"focusMinutes"`
}

// SubjectMonth is one subject's share of the month.
type SubjectMonth struct {
	SubjectID         string `json:"subjectId"`
	Name              string `json:"name"`
	Color             string `json:"color"`
	ScheduledSessions int    `json:"scheduledSessions"`
	Present           int    `json:"present"`
	Absent            int    `json:"absent"`
	Late              int    `json:"late"`
}

// Monthly is the full rollup for (user, month, year).
type Monthly struct {
	AttendanceRate    int                `json:"attendanceRate"`
	CurrentStreak     int                `json:"currentStreak"`
	LongestStreak     int                `json:"longestStreak"`
	TotalFocusMinutes int                `json:"totalFocusMinutes"`
	XPEarned          int                `json:"xpEarned"`
	SubjectBreakdown  []SubjectMonth     `json:"subjectBreakdown"`
	DayMap            map[string]DayStat `json:"dayMap"`
}

// Service aggregates without mutating anything.
type Service struct {
	subjects schedule.SubjectStore
	records  attendance.RecordStore
	focus    focus.Store
	users    user.Store
}

func NewService(subjects schedule.SubjectStore, records attendance.RecordStore, fs focus.Store, users user.Store) *Service {
	return &Service{subjects: subjects, records: records, focus: fs, users: users}
}

// Monthly computes the rollup for one calendar month.
func (s *Service) Monthly(ctx context.Context, userID string, year int, month time.Month) (*Monthly, error) {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, -1)

	subjects, err := s.subjects.List(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListRange(ctx, userID, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	sessions, err := s.focus.ListCompletedRange(ctx, userID, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	recordsBySubject := make(map[string][]attendance.Record)
	for _, r := range records {
		recordsBySubject[r.SubjectID] = append(recordsBySubject[r.SubjectID], r)
	}

	// Active subjects plus inactive ones that still have rows this month.
	considered := subjects[:0]
	for _, sub := range subjects {
		if sub.IsActive || len(recordsBySubject[sub.ID]) > 0 {
			considered = append(considered, sub)
		}
	}

	breakdown := make([]SubjectMonth, 0, len(considered))
	scheduledPerSubject := make(map[string]int, len(considered))

	dayMap := make(map[string]DayStat)
	for day := monthStart; !day.After(monthEnd); day = day.AddDate(0, 0, 1) {
		stat := DayStat{}
		for i := range considered {
			n := len(schedule.SlotsForDate(considered[i].Schedules, day))
			stat.Scheduled += n
			scheduledPerSubject[considered[i].ID] += n
		}
		dayMap[day.Format(dayKeyFormat)] = stat
	}

	for _, r := range records {
		key := r.Date.Format(dayKeyFormat)
		stat := dayMap[key]
		if r.Status == attendance.Present || r.Status == attendance.Late {
			stat.Attended++
		}
		stat.XP += r.XPEarned
		dayMap[key] = stat
	}

	totalFocusMinutes := 0
	focusXP := 0
	for _, sess := range sessions {
		key := sess.CompletedAt.Format(dayKeyFormat)
		stat, ok := dayMap[key]
		if ok {
			stat.XP += sess.XPEarned
			stat.FocusMinutes += sess.Duration
			dayMap[key] = stat
		}
		totalFocusMinutes += sess.Duration
		focusXP += sess.XPEarned
	}

	totalScheduled, totalPresent := 0, 0
	attendanceXP := 0
	for i := range considered {
		sub := &considered[i]
		sm := SubjectMonth{
			SubjectID:         sub.ID,
			Name:              sub.Name,
			Color:             sub.Color,
			ScheduledSessions: scheduledPerSubject[sub.ID],
		}
		for _, r := range recordsBySubject[sub.ID] {
			switch r.Status {
			case attendance.Present:
				sm.Present++
			case attendance.Absent:
				sm.Absent++
			case attendance.Late:
				sm.Late++
			}
		}
		totalScheduled += sm.ScheduledSessions
		totalPresent += sm.Present
		breakdown = append(breakdown, sm)
	}
	for _, r := range records {
		attendanceXP += r.XPEarned
	}

	out := &Monthly{
		AttendanceRate:    gamify.AttendancePercentage(totalPresent, totalScheduled),
		TotalFocusMinutes: totalFocusMinutes,
		XPEarned:          attendanceXP + focusXP,
		SubjectBreakdown:  breakdown,
		DayMap:            dayMap,
	}
	if u != nil {
		out.CurrentStreak = u.CurrentStreak
		out.LongestStreak = u.LongestStreak
	}
	return out, nil
}
