package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/store/sqlite"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, today time.Time) (*attendance.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := attendance.NewService(store.Records(), store.Users()).
		WithClock(func() time.Time { return today })
	return svc, store
}

func seedUser(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	err := store.Users().Save(context.Background(), user.User{
		ID:    id,
		Name:  "Test User",
		Email: id + "@example.com",
	})
	require.NoError(t, err)
}

func getUser(t *testing.T, store *sqlite.Store, id string) *user.User {
	t.Helper()
	u, err := store.Users().Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

// =============================================================================
// TOGGLE LIFECYCLE TESTS
// =============================================================================

func TestMark_PresentOnEmptyCell_CreatesAndCredits(t *testing.T) {
	// GIVEN: A fresh user with no records
	// WHEN: Marking present
	// THEN: One record with the base xp, counters at 1/1, streak started

	today := day(2025, time.March, 10)
	svc, store := newTestService(t, today)
	seedUser(t, store, "user-1")
	ctx := context.Background()

	action, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	assert.Equal(t, attendance.ActionCreated, action)
	require.NotNil(t, rec)
	assert.Equal(t, gamify.XPAttendanceMark, rec.XPEarned)
	assert.Equal(t, today, rec.Date)

	u := getUser(t, store, "user-1")
	assert.Equal(t, gamify.XPAttendanceMark, u.XP)
	assert.Equal(t, 1, u.CurrentStreak)
	assert.Equal(t, 1, u.LongestStreak)
	assert.Equal(t, 1, u.TotalScheduledDays)
	assert.Equal(t, 1, u.TotalAttendanceDays)
	require.NotNil(t, u.LastAttendanceDate)
	assert.Equal(t, today, *u.LastAttendanceDate)
}

func TestMark_SameStatusAgain_TogglesOffSymmetrically(t *testing.T) {
	// GIVEN: A present record worth 10 xp
	// WHEN: Marking present again on the same cell
	// THEN: The record is removed and xp and both counters return exactly
	//       to their prior values

	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	_, _, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	action, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	assert.Equal(t, attendance.ActionRemoved, action)
	assert.Nil(t, rec)

	u := getUser(t, store, "user-1")
	assert.Equal(t, 0, u.XP)
	assert.Equal(t, 0, u.TotalScheduledDays)
	assert.Equal(t, 0, u.TotalAttendanceDays)
	// The streak evaluator only ever runs forward; reversal does not touch it.
	assert.Equal(t, 1, u.CurrentStreak)

	records, err := svc.RecordsForDate(ctx, "user-1", day(2025, time.March, 10))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMark_DifferentStatus_FlipsWithoutCounterChanges(t *testing.T) {
	// GIVEN: A present record worth 10 xp
	// WHEN: Marking absent on the same cell
	// THEN: Only the status changes; xp, counters, and the stored XPEarned
	//       all stay put

	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	_, _, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	action, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Absent)
	require.NoError(t, err)

	assert.Equal(t, attendance.ActionUpdated, action)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.Absent, rec.Status)
	assert.Equal(t, gamify.XPAttendanceMark, rec.XPEarned, "stored grant is immutable")

	u := getUser(t, store, "user-1")
	assert.Equal(t, gamify.XPAttendanceMark, u.XP)
	assert.Equal(t, 1, u.TotalScheduledDays)
	assert.Equal(t, 1, u.TotalAttendanceDays)
}

func TestMark_AbsentOnEmptyCell_NoXPNoAttendedDay(t *testing.T) {
	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	action, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Absent)
	require.NoError(t, err)

	assert.Equal(t, attendance.ActionCreated, action)
	assert.Equal(t, 0, rec.XPEarned)

	u := getUser(t, store, "user-1")
	assert.Equal(t, 0, u.XP)
	assert.Equal(t, 1, u.TotalScheduledDays)
	assert.Equal(t, 0, u.TotalAttendanceDays)
	assert.Equal(t, 0, u.CurrentStreak)
	assert.Nil(t, u.LastAttendanceDate)
}

// =============================================================================
// MILESTONE REVERSAL TESTS
// =============================================================================

func TestMark_MilestoneBonus_StoredAndReversedExactly(t *testing.T) {
	// GIVEN: A user one day short of the 7-day milestone
	// WHEN: Marking present, then toggling off
	// THEN: The record stored base+bonus as one figure, and the reversal
	//       subtracts that stored figure, not a recomputed one

	today := day(2025, time.March, 10)
	yesterday := day(2025, time.March, 9)
	svc, store := newTestService(t, today)
	seedUser(t, store, "user-1")
	ctx := context.Background()

	require.NoError(t, store.SetStreak(ctx, "user-1", 6, 6, yesterday))
	require.NoError(t, store.AdjustXP(ctx, "user-1", 60))

	_, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	want := gamify.XPAttendanceMark + gamify.XPStreak7
	assert.Equal(t, want, rec.XPEarned)

	u := getUser(t, store, "user-1")
	assert.Equal(t, 60+want, u.XP)
	assert.Equal(t, 7, u.CurrentStreak)

	// Toggle off: the streak has since moved past 7, but the reversal must
	// still return exactly what was granted.
	_, _, err = svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	u = getUser(t, store, "user-1")
	assert.Equal(t, 60, u.XP)
}

func TestMark_SecondSubjectSameDay_NoSecondStreakCredit(t *testing.T) {
	// GIVEN: A present mark already credited today
	// WHEN: Marking present for a second subject the same day
	// THEN: Base xp only; streak fields do not move again

	today := day(2025, time.March, 10)
	svc, store := newTestService(t, today)
	seedUser(t, store, "user-1")
	ctx := context.Background()

	_, _, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)
	_, rec, err := svc.Mark(ctx, "user-1", "subj-2", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	assert.Equal(t, gamify.XPAttendanceMark, rec.XPEarned)

	u := getUser(t, store, "user-1")
	assert.Equal(t, 2*gamify.XPAttendanceMark, u.XP)
	assert.Equal(t, 1, u.CurrentStreak)
	assert.Equal(t, 2, u.TotalScheduledDays, "counters count session marks")
	assert.Equal(t, 2, u.TotalAttendanceDays)
}

// =============================================================================
// COMPOSITE KEY TESTS
// =============================================================================

func TestMark_SameSubjectDifferentSessions_SeparateCells(t *testing.T) {
	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	_, _, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)
	_, _, err = svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 2, attendance.Present)
	require.NoError(t, err)

	records, err := svc.RecordsForDate(ctx, "user-1", day(2025, time.March, 10))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMark_ExplicitDateIsDayNormalized(t *testing.T) {
	// A mid-day timestamp and a midnight timestamp address the same cell.

	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	noisy := time.Date(2025, time.March, 5, 14, 30, 11, 0, time.UTC)
	_, rec, err := svc.Mark(ctx, "user-1", "subj-1", noisy, 1, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, day(2025, time.March, 5), rec.Date)

	action, _, err := svc.Mark(ctx, "user-1", "subj-1", day(2025, time.March, 5), 1, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionRemoved, action)
}

func TestMark_BackdatedPresent_LeavesStreakAlone(t *testing.T) {
	// GIVEN: A live 6-day streak last credited yesterday
	// WHEN: Marking present for a cell five days back
	// THEN: Base xp for the cell; the streak and lastAttendanceDate do
	//       not rewind to the backdated day

	today := day(2025, time.March, 10)
	yesterday := day(2025, time.March, 9)
	svc, store := newTestService(t, today)
	seedUser(t, store, "user-1")
	ctx := context.Background()

	require.NoError(t, store.SetStreak(ctx, "user-1", 6, 6, yesterday))

	_, rec, err := svc.Mark(ctx, "user-1", "subj-1", day(2025, time.March, 5), 1, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, gamify.XPAttendanceMark, rec.XPEarned)

	u := getUser(t, store, "user-1")
	assert.Equal(t, gamify.XPAttendanceMark, u.XP)
	assert.Equal(t, 6, u.CurrentStreak)
	require.NotNil(t, u.LastAttendanceDate)
	assert.Equal(t, yesterday, *u.LastAttendanceDate)

	// A same-day mark afterwards still advances the streak from 6 to 7.
	_, rec, err = svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, gamify.XPAttendanceMark+gamify.XPStreak7, rec.XPEarned)
	assert.Equal(t, 7, getUser(t, store, "user-1").CurrentStreak)
}

// =============================================================================
// CREATE RACE TESTS
// =============================================================================

// raceRecordStore loses the create race: the first Find sees an empty
// cell, Insert hits the unique index, and the re-read returns the row the
// winner wrote.
type raceRecordStore struct {
	winner        attendance.Record
	finds         int
	inserts       int
	statusUpdates []attendance.Status
	deletes       int
}

func (s *raceRecordStore) Insert(ctx context.Context, r attendance.Record) error {
	s.inserts++
	return attendance.ErrDuplicateRecord
}

func (s *raceRecordStore) Find(ctx context.Context, userID, subjectID string, date time.Time, sessionNumber int) (*attendance.Record, error) {
	s.finds++
	if s.finds == 1 {
		return nil, nil
	}
	rec := s.winner
	return &rec, nil
}

func (s *raceRecordStore) FindByID(ctx context.Context, userID, recordID string) (*attendance.Record, error) {
	return nil, nil
}

func (s *raceRecordStore) UpdateStatus(ctx context.Context, recordID string, status attendance.Status) error {
	s.statusUpdates = append(s.statusUpdates, status)
	return nil
}

func (s *raceRecordStore) Delete(ctx context.Context, recordID string) error {
	s.deletes++
	return nil
}

func (s *raceRecordStore) ListByDate(ctx context.Context, userID string, date time.Time) ([]attendance.Record, error) {
	return nil, nil
}

func (s *raceRecordStore) ListRange(ctx context.Context, userID string, from, to time.Time) ([]attendance.Record, error) {
	return nil, nil
}

func (s *raceRecordStore) AdjustXP(ctx context.Context, userID string, delta int) error {
	return nil
}

func (s *raceRecordStore) AdjustDayCounters(ctx context.Context, userID string, scheduled, attended int) error {
	return nil
}

func (s *raceRecordStore) SetStreak(ctx context.Context, userID string, current, longest int, last time.Time) error {
	return nil
}

func (s *raceRecordStore) WithTx(ctx context.Context, fn func(attendance.Stores) error) error {
	return fn(s)
}

func newRaceService(t *testing.T, today time.Time, stub *raceRecordStore) *attendance.Service {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedUser(t, store, "user-1")
	return attendance.NewService(stub, store.Users()).
		WithClock(func() time.Time { return today })
}

func TestMark_LostCreateRace_FlipsWinnersRow(t *testing.T) {
	// GIVEN: An insert that loses the composite-key race to a concurrent
	//        present mark
	// WHEN: Marking absent for the same cell
	// THEN: The call re-reads the winner's row and flips it instead of
	//       surfacing the duplicate error

	today := day(2025, time.March, 10)
	stub := &raceRecordStore{winner: attendance.Record{
		ID: "rec-1", UserID: "user-1", SubjectID: "subj-1",
		Date: today, SessionNumber: 1,
		Status: attendance.Present, XPEarned: gamify.XPAttendanceMark,
	}}
	svc := newRaceService(t, today, stub)

	action, rec, err := svc.Mark(context.Background(), "user-1", "subj-1", time.Time{}, 1, attendance.Absent)
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionUpdated, action)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.Absent, rec.Status)
	assert.Equal(t, 1, stub.inserts)
	assert.Equal(t, 2, stub.finds, "one miss, one re-read")
	require.Len(t, stub.statusUpdates, 1)
	assert.Equal(t, attendance.Absent, stub.statusUpdates[0])
}

func TestMark_LostCreateRace_SameStatus_TogglesWinnersRow(t *testing.T) {
	// The loser submitted the status the winner already wrote: the call
	// resolves as a toggle-off of the winner's row.

	today := day(2025, time.March, 10)
	stub := &raceRecordStore{winner: attendance.Record{
		ID: "rec-1", UserID: "user-1", SubjectID: "subj-1",
		Date: today, SessionNumber: 1,
		Status: attendance.Present, XPEarned: gamify.XPAttendanceMark,
	}}
	svc := newRaceService(t, today, stub)

	action, _, err := svc.Mark(context.Background(), "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)
	assert.Equal(t, attendance.ActionRemoved, action)
	assert.Equal(t, 1, stub.deletes)
}

// =============================================================================
// ADMIN DELETE TESTS
// =============================================================================

func TestDelete_ReversesStoredGrant(t *testing.T) {
	// GIVEN: A present record carrying base+bonus xp
	// WHEN: An admin deletes it by id
	// THEN: XP and both day counters reverse; streak fields stay

	today := day(2025, time.March, 10)
	svc, store := newTestService(t, today)
	seedUser(t, store, "user-1")
	ctx := context.Background()

	require.NoError(t, store.SetStreak(ctx, "user-1", 6, 6, day(2025, time.March, 9)))

	_, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "user-1", rec.ID))

	u := getUser(t, store, "user-1")
	assert.Equal(t, 0, u.XP)
	assert.Equal(t, 0, u.TotalScheduledDays)
	assert.Equal(t, 0, u.TotalAttendanceDays)
	assert.Equal(t, 7, u.CurrentStreak)
}

func TestDelete_WrongUser_NotFound(t *testing.T) {
	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	seedUser(t, store, "user-2")
	ctx := context.Background()

	_, rec, err := svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Present)
	require.NoError(t, err)

	err = svc.Delete(ctx, "user-2", rec.ID)
	assert.ErrorIs(t, err, attendance.ErrRecordNotFound)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestMark_Validation(t *testing.T) {
	svc, store := newTestService(t, day(2025, time.March, 10))
	seedUser(t, store, "user-1")
	ctx := context.Background()

	_, _, err := svc.Mark(ctx, "user-1", "", time.Time{}, 1, attendance.Present)
	assert.ErrorIs(t, err, attendance.ErrValidation, "missing subject")

	_, _, err = svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 1, attendance.Status("partying"))
	assert.ErrorIs(t, err, attendance.ErrValidation, "unknown status")

	_, _, err = svc.Mark(ctx, "user-1", "subj-1", time.Time{}, 0, attendance.Present)
	assert.ErrorIs(t, err, attendance.ErrValidation, "session number below 1")
}
