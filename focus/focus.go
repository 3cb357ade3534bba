/*
Package focus is the focus-session ledger: timed work sessions with their
own xp awards.

PURPOSE:
  An independent collaborator of the attendance core. The monthly
  aggregator reads completed sessions for per-day focus minutes and xp;
  the attendance code never writes here. Like attendance records, each
  session stores the xp it was granted so totals stay auditable.
*/
package focus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/user"
)

// Session is one timed work session. SubjectID is optional; Duration is in
// minutes. XPEarned is granted only when the session completed.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	SubjectID   string    `json:"subjectId,omitempty"`
	Duration    int       `json:"duration"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completedAt"`
	XPEarned    int       `json:"xpEarned"`
}

// Period filters session history.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodAll   Period = "all"
)

// Stats summarizes a session listing.
type Stats struct {
	TotalSessions int `json:"totalSessions"`
	TotalMinutes  int `json:"totalMinutes"`
	TotalXP       int `json:"totalXP"`
}

// Store is the persistence boundary for focus sessions.
type Store interface {
	Insert(ctx context.Context, s Session) error

	// List returns the user's sessions newest first, optionally bounded
	// below by since (nil = no bound), capped at limit.
	List(ctx context.Context, userID string, since *time.Time, limit int) ([]Session, error)

	// ListCompletedRange returns completed sessions with CompletedAt in
	// [from, to].
	ListCompletedRange(ctx context.Context, userID string, from, to time.Time) ([]Session, error)
}

// Service logs sessions and serves history.
type Service struct {
	store    Store
	counters user.CounterStore
	now      func() time.Time
}

func NewService(store Store, counters user.CounterStore) *Service {
	return &Service{store: store, counters: counters, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Log records a session, awarding the completion xp when completed.
func (s *Service) Log(ctx context.Context, userID, subjectID string, duration int, completed bool) (*Session, error) {
	if duration < 0 {
		return nil, fmt.Errorf("duration must be >= 0, got %d", duration)
	}

	xp := 0
	if completed {
		xp = gamify.XPFocusSession
	}
	sess := Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		SubjectID:   subjectID,
		Duration:    duration,
		Completed:   completed,
		CompletedAt: s.now(),
		XPEarned:    xp,
	}

	if err := s.store.Insert(ctx, sess); err != nil {
		return nil, err
	}
	if completed {
		if err := user.AwardXP(ctx, s.counters, userID, xp); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// History returns sessions for the period plus completion stats. Stats
// count completed sessions only, except TotalXP which sums every listed
// session (incomplete ones carry zero anyway).
func (s *Service) History(ctx context.Context, userID string, period Period, limit int) ([]Session, Stats, error) {
	if limit <= 0 {
		limit = 20
	}

	var since *time.Time
	now := s.now()
	switch period {
	case PeriodToday:
		t := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		since = &t
	case PeriodWeek:
		t := now.AddDate(0, 0, -7)
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		since = &t
	case PeriodAll, "":
		// no bound
	default:
		return nil, Stats{}, fmt.Errorf("unknown period %q", period)
	}

	sessions, err := s.store.List(ctx, userID, since, limit)
	if err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	for _, sess := range sessions {
		stats.TotalXP += sess.XPEarned
		if sess.Completed {
			stats.TotalSessions++
			stats.TotalMinutes += sess.Duration
		}
	}
	return sessions, stats, nil
}
