/*
service.go - The mark/unmark/re-mark state machine

PURPOSE:
  One attendance cell (user, subject, date, sessionNumber) moves through:

    unmarked -> present|absent|late -> unmarked

  Re-submitting the SAME status toggles the record off. Submitting a
  DIFFERENT status updates the record in place. Only creation and deletion
  carry counter/xp effects; the in-place status flip deliberately does not
  (see the pinned behavior note below).

EFFECTS PER TRANSITION:
  create(present):  record(xp = base + streak bonus), scheduled+1,
                    attended+1, xp += stored amount, streak advanced.
                    Backdated marks skip the streak path: base xp only.
  create(other):    record(xp = 0), scheduled+1
  toggle-off:       record deleted, scheduled-1, attended-1 if it was
                    present, xp -= the record's STORED XPEarned
  status flip:      record status updated, nothing else

PINNED BEHAVIOR:
  Flipping absent -> present after the fact does NOT award xp or adjust
  totalAttendanceDays, and present -> absent does not reverse them. Only
  the create/delete pair carries effects; the flip-through asymmetry is a
  deliberate carry-over, pinned by test.

CONCURRENCY:
  Two concurrent marks for the same key race on the store's composite
  unique index. The loser's insert fails with ErrDuplicateRecord; the
  service re-reads and falls into the update/toggle branch instead of
  reporting an error. Ledger write and counter updates land in a single
  store transaction so a crash cannot leave a record without its counters.

SEE ALSO:
  - types.go: Record and store interfaces
  - gamify/streak.go: streak evaluation consulted on present marks
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Stores bundles the ledger writes and counter adjustments that must land
// together for one logical operation.
type Stores interface {
	RecordStore
	user.CounterStore
}

// TxStore runs a function against Stores inside one storage transaction.
// If fn returns an error the transaction rolls back.
type TxStore interface {
	Stores
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the only mutator of the attendance ledger.
type Service struct {
	store TxStore
	users user.Store
	now   func() time.Time
}

func NewService(store TxStore, users user.Store) *Service {
	return &Service{store: store, users: users, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mark drives one attendance cell through its state machine. A zero date
// means "today". Returns the action taken and, for created/updated, the
// resulting record.
func (s *Service) Mark(ctx context.Context, userID, subjectID string, date time.Time, sessionNumber int, status Status) (Action, *Record, error) {
	if subjectID == "" {
		return "", nil, fmt.Errorf("%w: missing subjectId", ErrValidation)
	}
	if !ValidStatus(string(status)) {
		return "", nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if sessionNumber < 1 {
		return "", nil, fmt.Errorf("%w: sessionNumber %d must be >= 1", ErrValidation, sessionNumber)
	}
	if date.IsZero() {
		date = s.now()
	}
	day := schedule.Midnight(date)

	existing, err := s.store.Find(ctx, userID, subjectID, day, sessionNumber)
	if err != nil {
		return "", nil, err
	}

	if existing == nil {
		action, rec, err := s.create(ctx, userID, subjectID, day, sessionNumber, status)
		if !errors.Is(err, ErrDuplicateRecord) {
			return action, rec, err
		}
		// Lost a create race: someone else inserted the record between our
		// read and write. Re-read and fall into the update/toggle branch.
		existing, err = s.store.Find(ctx, userID, subjectID, day, sessionNumber)
		if err != nil {
			return "", nil, err
		}
		if existing == nil {
			return "", nil, ErrDuplicateRecord
		}
	}

	if existing.Status == status {
		return s.toggleOff(ctx, userID, existing)
	}
	return s.flipStatus(ctx, existing, status)
}

// Delete removes a record administratively, reversing exactly the counters
// and xp its creation applied. The recordID must belong to userID.
func (s *Service) Delete(ctx context.Context, userID, recordID string) error {
	rec, err := s.store.FindByID(ctx, userID, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRecordNotFound
	}
	_, _, err = s.toggleOff(ctx, userID, rec)
	return err
}

// RecordsForDate returns the user's ledger rows for one day.
func (s *Service) RecordsForDate(ctx context.Context, userID string, date time.Time) ([]Record, error) {
	if date.IsZero() {
		date = s.now()
	}
	return s.store.ListByDate(ctx, userID, schedule.Midnight(date))
}

// RecordsInRange returns the user's ledger rows with date in [from, to].
func (s *Service) RecordsInRange(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	return s.store.ListRange(ctx, userID, schedule.Midnight(from), schedule.Midnight(to))
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) create(ctx context.Context, userID, subjectID string, day time.Time, sessionNumber int, status Status) (Action, *Record, error) {
	xp := 0
	var streak gamify.StreakResult

	if status == Present {
		u, err := s.users.Get(ctx, userID)
		if err != nil {
			return "", nil, err
		}
		if u == nil {
			return "", nil, user.ErrNotFound
		}
		xp = gamify.XPAttendanceMark
		// The streak tracks the most recent run of days, so only a mark
		// for the current day consults it. A backdated mark earns base
		// xp for its cell and leaves the streak state alone.
		if day.Equal(schedule.Midnight(s.now())) {
			streak = gamify.EvaluateStreak(u.LastAttendanceDate, day, u.CurrentStreak, u.LongestStreak)
			// Base and bonus fold into one stored figure so a later
			// reversal undoes both pieces exactly.
			xp += streak.Bonus
		}
	}

	rec := Record{
		ID:            uuid.NewString(),
		UserID:        userID,
		SubjectID:     subjectID,
		Date:          day,
		SessionNumber: sessionNumber,
		Status:        status,
		XPEarned:      xp,
		MarkedAt:      s.now(),
	}

	err := s.store.WithTx(ctx, func(st Stores) error {
		if err := st.Insert(ctx, rec); err != nil {
			return err
		}
		attended := 0
		if status == Present {
			attended = 1
		}
		if err := st.AdjustDayCounters(ctx, userID, 1, attended); err != nil {
			return err
		}
		if status != Present {
			return nil
		}
		if err := user.AwardXP(ctx, st, userID, xp); err != nil {
			return err
		}
		if streak.Continued {
			return st.SetStreak(ctx, userID, streak.Streak, streak.Longest, day)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return ActionCreated, &rec, nil
}

func (s *Service) toggleOff(ctx context.Context, userID string, rec *Record) (Action, *Record, error) {
	err := s.store.WithTx(ctx, func(st Stores) error {
		if err := st.Delete(ctx, rec.ID); err != nil {
			return err
		}
		attended := 0
		if rec.Status == Present {
			attended = 1
		}
		if err := st.AdjustDayCounters(ctx, userID, -1, -attended); err != nil {
			return err
		}
		// Reversal uses the stored amount; never recompute from current
		// constants or current streak.
		return user.ReverseXP(ctx, st, userID, rec.XPEarned)
	})
	if err != nil {
		return "", nil, err
	}
	return ActionRemoved, nil, nil
}

func (s *Service) flipStatus(ctx context.Context, rec *Record, status Status) (Action, *Record, error) {
	if err := s.store.UpdateStatus(ctx, rec.ID, status); err != nil {
		return "", nil, err
	}
	updated := *rec
	updated.Status = status
	return ActionUpdated, &updated, nil
}
