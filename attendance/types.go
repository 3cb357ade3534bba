/*
Package attendance is the attendance ledger and its toggle state machine.

PURPOSE:
  One Record per (user, subject, date, sessionNumber) is the source of
  truth for what actually happened on each scheduled occurrence. The
  service in this package is the ONLY code path that creates, updates, or
  deletes records, because every ledger mutation must move the user's
  aggregate counters and xp in lockstep.

CRITICAL INVARIANTS:
  1. UNIQUE KEY: at most one record per (userId, subjectId, date,
     sessionNumber), enforced by the store's composite unique index.
  2. STORED XP: XPEarned holds the exact amount granted at creation
     (base + any streak bonus folded in). Reversal uses the stored figure,
     never a recomputation - constants may change between grant and undo.
  3. SYMMETRY: every create path has a delete path that reverses exactly
     the counters and xp the create applied.

SEE ALSO:
  - service.go: the mark/unmark/re-mark state machine
  - user/user.go: the counter primitives this package drives
*/
package attendance

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the recorded outcome for one session.
type Status string

const (
	Present Status = "present"
	Absent  Status = "absent"
	Late    Status = "late"
)

// ValidStatus reports whether s is one of the three statuses.
func ValidStatus(s string) bool {
	switch Status(s) {
	case Present, Absent, Late:
		return true
	}
	return false
}

// =============================================================================
// RECORD
// =============================================================================

// Record is one attendance ledger entry. Date is day-granular, normalized
// to UTC midnight. XPEarned is the combined amount (attendance base plus
// streak bonus) granted when the record was created; zero for non-present
// statuses.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	SubjectID     string    `json:"subjectId"`
	Date          time.Time `json:"date"`
	SessionNumber int       `json:"sessionNumber"`
	Status        Status    `json:"status"`
	XPEarned      int       `json:"xpEarned"`
	MarkedAt      time.Time `json:"markedAt"`
}

// Action describes what a Mark call did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateRecord is returned by the store when an insert violates
	// the (userId, subjectId, date, sessionNumber) uniqueness constraint.
	// The service treats it as "someone already created it" and re-reads.
	ErrDuplicateRecord = errors.New("attendance record already exists for this session")

	// ErrRecordNotFound is returned when a record id does not resolve
	// under the ownership filter.
	ErrRecordNotFound = errors.New("attendance record not found")

	// ErrValidation is wrapped by all pre-mutation input rejections.
	ErrValidation = errors.New("invalid attendance input")
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// RecordStore is the persistence boundary for the attendance ledger.
type RecordStore interface {
	// Insert persists a new record. Returns ErrDuplicateRecord when the
	// composite key already exists.
	Insert(ctx context.Context, r Record) error

	// Find returns the record for the composite key, or nil if absent.
	Find(ctx context.Context, userID, subjectID string, date time.Time, sessionNumber int) (*Record, error)

	// FindByID returns the record only if it belongs to userID.
	FindByID(ctx context.Context, userID, recordID string) (*Record, error)

	// UpdateStatus flips the status of an existing record in place.
	UpdateStatus(ctx context.Context, recordID string, status Status) error

	// Delete removes a record by id.
	Delete(ctx context.Context, recordID string) error

	// ListByDate returns the user's records for one day.
	ListByDate(ctx context.Context, userID string, date time.Time) ([]Record, error)

	// ListRange returns the user's records with date in [from, to],
	// both day-granular and inclusive.
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]Record, error)
}
