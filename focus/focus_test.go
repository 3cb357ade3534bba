package focus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/store/sqlite"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T, today time.Time) (*focus.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Users().Save(context.Background(), user.User{
		ID: "user-1", Name: "Test User", Email: "test@example.com",
	}))

	svc := focus.NewService(store.Focus(), store).
		WithClock(func() time.Time { return today })
	return svc, store
}

func userXP(t *testing.T, store *sqlite.Store) int {
	t.Helper()
	u, err := store.Users().Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.XP
}

// =============================================================================
// SESSION LOGGING TESTS
// =============================================================================

func TestLog_CompletedSession_AwardsXP(t *testing.T) {
	// GIVEN: A fresh user
	// WHEN: Logging a completed 25-minute session
	// THEN: The session stores the grant and the user's xp moves

	svc, store := newTestService(t, time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	sess, err := svc.Log(context.Background(), "user-1", "subj-1", 25, true)
	require.NoError(t, err)

	assert.Equal(t, gamify.XPFocusSession, sess.XPEarned)
	assert.Equal(t, gamify.XPFocusSession, userXP(t, store))
}

func TestLog_AbandonedSession_RecordedWithoutXP(t *testing.T) {
	// Abandoned sessions are kept for history but pay nothing.

	svc, store := newTestService(t, time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	sess, err := svc.Log(context.Background(), "user-1", "", 12, false)
	require.NoError(t, err)

	assert.Equal(t, 0, sess.XPEarned)
	assert.Equal(t, 0, userXP(t, store))
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_PeriodToday_ExcludesOlderSessions(t *testing.T) {
	// GIVEN: Sessions from today and from three days ago
	// WHEN: Listing with period=today
	// THEN: Only today's session is returned, with its rollup

	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	old := svc.WithClock(func() time.Time { return now.AddDate(0, 0, -3) })
	_, err := old.Log(ctx, "user-1", "", 50, true)
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return now })
	_, err = svc.Log(ctx, "user-1", "", 25, true)
	require.NoError(t, err)

	sessions, rollup, err := svc.History(ctx, "user-1", focus.PeriodToday, 0)
	require.NoError(t, err)

	require.Len(t, sessions, 1)
	assert.Equal(t, 25, sessions[0].Duration)
	assert.Equal(t, 1, rollup.TotalSessions)
	assert.Equal(t, 25, rollup.TotalMinutes)
	assert.Equal(t, gamify.XPFocusSession, rollup.TotalXP)
}

func TestHistory_StatsCountCompletedOnly(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.Log(ctx, "user-1", "", 25, true)
	require.NoError(t, err)
	_, err = svc.Log(ctx, "user-1", "", 40, false)
	require.NoError(t, err)

	sessions, rollup, err := svc.History(ctx, "user-1", focus.PeriodAll, 0)
	require.NoError(t, err)

	assert.Len(t, sessions, 2, "history lists everything")
	assert.Equal(t, 1, rollup.TotalSessions, "stats count completed only")
	assert.Equal(t, 25, rollup.TotalMinutes)
}

func TestHistory_UnknownPeriod(t *testing.T) {
	svc, _ := newTestService(t, time.Now().UTC())

	_, _, err := svc.History(context.Background(), "user-1", focus.Period("fortnight"), 0)
	assert.Error(t, err)
}
