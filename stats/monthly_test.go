package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/stats"
	"github.com/classtrack/attendance-engine/store/sqlite"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixture wires all services over one in-memory store with a movable clock.
type fixture struct {
	store    *sqlite.Store
	subjects *schedule.Service
	marks    *attendance.Service
	focus    *focus.Service
	stats    *stats.Service
	clock    time.Time
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, clock: day(2025, time.March, 1)}
	now := func() time.Time { return f.clock }

	f.subjects = schedule.NewService(store.Subjects()).WithClock(now)
	f.marks = attendance.NewService(store.Records(), store.Users()).WithClock(now)
	f.focus = focus.NewService(store.Focus(), store).WithClock(now)
	f.stats = stats.NewService(store.Subjects(), store.Records(), store.Focus(), store.Users())

	require.NoError(t, store.Users().Save(context.Background(), user.User{
		ID: "user-1", Name: "Test User", Email: "test@example.com",
	}))
	return f
}

func mondaySlot() []schedule.Slot {
	return []schedule.Slot{{Day: schedule.Mon, SessionNumber: 1}}
}

func wednesdaySlot() []schedule.Slot {
	return []schedule.Slot{{Day: schedule.Wed, SessionNumber: 1}}
}

// =============================================================================
// HISTORICAL IMMUTABILITY TESTS
// =============================================================================

// March 2025: Mondays fall on 3, 10, 17, 24, 31; Wednesdays on 5, 12, 19, 26.

func TestMonthly_ScheduleEditDoesNotRewriteEarlierDays(t *testing.T) {
	// GIVEN: A Monday subject created March 1, marked present on March 3
	//        and 10, then moved to Wednesday on March 20
	// WHEN: Aggregating March
	// THEN: Mondays before the edit stay scheduled, Mondays after do not,
	//       and the Wednesday after the edit appears

	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subjects.Create(ctx, "user-1", "Mathematics", "", mondaySlot())
	require.NoError(t, err)

	f.clock = day(2025, time.March, 3)
	_, _, err = f.marks.Mark(ctx, "user-1", sub.ID, time.Time{}, 1, attendance.Present)
	require.NoError(t, err)
	f.clock = day(2025, time.March, 10)
	_, _, err = f.marks.Mark(ctx, "user-1", sub.ID, time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	f.clock = day(2025, time.March, 20)
	_, err = f.subjects.Update(ctx, "user-1", sub.ID, schedule.SubjectUpdate{Slots: wednesdaySlot()})
	require.NoError(t, err)

	m, err := f.stats.Monthly(ctx, "user-1", 2025, time.March)
	require.NoError(t, err)

	// Old version governs days before the edit.
	assert.Equal(t, 1, m.DayMap["2025-03-03"].Scheduled)
	assert.Equal(t, 1, m.DayMap["2025-03-17"].Scheduled)
	assert.Equal(t, 0, m.DayMap["2025-03-05"].Scheduled, "Wednesday before the edit")

	// New version governs days on and after the edit.
	assert.Equal(t, 0, m.DayMap["2025-03-24"].Scheduled, "Monday after the edit")
	assert.Equal(t, 1, m.DayMap["2025-03-26"].Scheduled)

	// Scheduled: Mar 3, 10, 17 (Mondays, old) + Mar 26 (Wednesday, new) = 4.
	// Present: 2. Rate: round(100 * 2/4) = 50.
	assert.Equal(t, 50, m.AttendanceRate)

	require.Len(t, m.SubjectBreakdown, 1)
	assert.Equal(t, 4, m.SubjectBreakdown[0].ScheduledSessions)
	assert.Equal(t, 2, m.SubjectBreakdown[0].Present)
}

func TestMonthly_DayMapCarriesAttendanceAndFocusXP(t *testing.T) {
	// GIVEN: A present mark on March 3 and a completed 30-minute focus
	//        session on March 10
	// WHEN: Aggregating March
	// THEN: Each day's cell carries its own xp; the month total sums both

	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subjects.Create(ctx, "user-1", "Mathematics", "", mondaySlot())
	require.NoError(t, err)

	f.clock = day(2025, time.March, 3)
	_, _, err = f.marks.Mark(ctx, "user-1", sub.ID, time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	f.clock = day(2025, time.March, 10)
	_, err = f.focus.Log(ctx, "user-1", sub.ID, 30, true)
	require.NoError(t, err)

	m, err := f.stats.Monthly(ctx, "user-1", 2025, time.March)
	require.NoError(t, err)

	assert.Equal(t, gamify.XPAttendanceMark, m.DayMap["2025-03-03"].XP)
	assert.Equal(t, 1, m.DayMap["2025-03-03"].Attended)
	assert.Equal(t, gamify.XPFocusSession, m.DayMap["2025-03-10"].XP)
	assert.Equal(t, 30, m.DayMap["2025-03-10"].FocusMinutes)

	assert.Equal(t, gamify.XPAttendanceMark+gamify.XPFocusSession, m.XPEarned)
	assert.Equal(t, 30, m.TotalFocusMinutes)
	assert.Equal(t, 1, m.CurrentStreak)
}

func TestMonthly_LateCountsAsAttended(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subjects.Create(ctx, "user-1", "Mathematics", "", mondaySlot())
	require.NoError(t, err)

	f.clock = day(2025, time.March, 3)
	_, _, err = f.marks.Mark(ctx, "user-1", sub.ID, time.Time{}, 1, attendance.Late)
	require.NoError(t, err)

	m, err := f.stats.Monthly(ctx, "user-1", 2025, time.March)
	require.NoError(t, err)

	assert.Equal(t, 1, m.DayMap["2025-03-03"].Attended)
	require.Len(t, m.SubjectBreakdown, 1)
	assert.Equal(t, 1, m.SubjectBreakdown[0].Late)
	// The rate numerator counts present only; a late mark attends the day
	// without improving the rate.
	assert.Equal(t, 0, m.AttendanceRate)
}

// =============================================================================
// SUBJECT SELECTION TESTS
// =============================================================================

func TestMonthly_InactiveSubjectWithRecordsStillCounts(t *testing.T) {
	// GIVEN: A subject marked in March and deactivated afterwards
	// WHEN: Aggregating March
	// THEN: Its records and schedule still shape the month

	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subjects.Create(ctx, "user-1", "Mathematics", "", mondaySlot())
	require.NoError(t, err)

	f.clock = day(2025, time.March, 3)
	_, _, err = f.marks.Mark(ctx, "user-1", sub.ID, time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	f.clock = day(2025, time.April, 1)
	require.NoError(t, f.subjects.Deactivate(ctx, "user-1", sub.ID))

	m, err := f.stats.Monthly(ctx, "user-1", 2025, time.March)
	require.NoError(t, err)

	require.Len(t, m.SubjectBreakdown, 1)
	assert.Equal(t, 1, m.SubjectBreakdown[0].Present)
	assert.Equal(t, 1, m.DayMap["2025-03-03"].Attended)
}

func TestMonthly_InactiveSubjectWithoutRecordsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subjects.Create(ctx, "user-1", "Mathematics", "", mondaySlot())
	require.NoError(t, err)
	require.NoError(t, f.subjects.Deactivate(ctx, "user-1", sub.ID))

	m, err := f.stats.Monthly(ctx, "user-1", 2025, time.March)
	require.NoError(t, err)

	assert.Empty(t, m.SubjectBreakdown)
	assert.Equal(t, 0, m.AttendanceRate)
}

func TestMonthly_EmptyMonth(t *testing.T) {
	f := newFixture(t)

	m, err := f.stats.Monthly(context.Background(), "user-1", 2025, time.February)
	require.NoError(t, err)

	assert.Equal(t, 0, m.AttendanceRate)
	assert.Len(t, m.DayMap, 28, "one cell per calendar day")
}
