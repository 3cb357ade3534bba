/*
conflict.go - Cross-subject slot conflict detection

PURPOSE:
  Within one user's active subjects, two subjects cannot claim the same
  (day, sessionNumber) pair in their currently-open schedule entries. A
  student cannot sit in two classes during Monday period 1.

  The check runs at subject creation and schedule edit, BEFORE the new open
  entry is committed. Historical (closed) entries are never checked: past
  overlap is a fact of history, not something an edit today can create.

ERROR SURFACE:
  ConflictError names the conflicting subject, day, and session number so
  the caller can resolve the clash manually. There is no automatic retry.
*/
package schedule

import (
	"errors"
	"fmt"
)

// ErrScheduleConflict is the sentinel wrapped by every ConflictError.
var ErrScheduleConflict = errors.New("schedule slot conflict")

// ConflictError reports an overlapping (day, sessionNumber) claim between
// the proposed slot set and another active subject's open entry.
type ConflictError struct {
	SubjectID     string
	SubjectName   string
	Day           Day
	SessionNumber int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s session %d is already taken by %q", e.Day, e.SessionNumber, e.SubjectName)
}

func (e *ConflictError) Unwrap() error { return ErrScheduleConflict }

// FindConflict scans the open entries of the given subjects for a
// (day, sessionNumber) pair also present in newSlots. Returns the first
// conflict found, or nil. Callers pass the user's OTHER active subjects;
// inactive subjects and closed entries do not participate.
func FindConflict(newSlots []Slot, others []Subject) *ConflictError {
	claimed := make(map[string]bool, len(newSlots))
	for _, sl := range newSlots {
		claimed[sl.key()] = true
	}

	for i := range others {
		sub := &others[i]
		if !sub.IsActive {
			continue
		}
		cur := sub.CurrentEntry()
		if cur == nil {
			continue
		}
		for _, sl := range cur.Slots {
			if claimed[sl.key()] {
				return &ConflictError{
					SubjectID:     sub.ID,
					SubjectName:   sub.Name,
					Day:           sl.Day,
					SessionNumber: sl.SessionNumber,
				}
			}
		}
	}
	return nil
}
