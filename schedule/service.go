/*
service.go - Subject lifecycle on top of the versioned history

PURPOSE:
  Creation seeds a subject with one open entry effective today. Edits go
  through close-and-append (resolver.go) so history stays immutable.
  Deletion is a soft flag; a subject with ledger rows behind it must stay
  resolvable forever.

  Both creation and schedule edits run the cross-subject conflict check
  before committing the new open entry.
*/
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultColor is applied when the caller doesn't pick an accent. The core
// treats color as an opaque pass-through.
const DefaultColor = "#805af2"

// ErrSubjectNotFound is returned when a subject id does not resolve under
// the ownership filter.
var ErrSubjectNotFound = errors.New("subject not found")

// ErrInvalidSubject is wrapped by pre-mutation input rejections.
var ErrInvalidSubject = errors.New("invalid subject input")

// SubjectStore is the persistence boundary for subject documents. Save
// persists the whole document including the schedule history, matching the
// embedded-array shape of a document store.
type SubjectStore interface {
	Save(ctx context.Context, s Subject) error
	Get(ctx context.Context, userID, id string) (*Subject, error)

	// List returns the user's subjects, newest first. activeOnly excludes
	// soft-deleted subjects.
	List(ctx context.Context, userID string, activeOnly bool) ([]Subject, error)
}

// SubjectUpdate carries an edit. Nil fields are left unchanged; a non-nil
// Slots triggers a close-and-append schedule version.
type SubjectUpdate struct {
	Name     *string
	Color    *string
	IsActive *bool
	Slots    []Slot
}

// Service owns subject creation, editing, and soft deletion.
type Service struct {
	subjects SubjectStore
	now      func() time.Time
}

func NewService(subjects SubjectStore) *Service {
	return &Service{subjects: subjects, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the slot set, runs the conflict check against the
// user's other active subjects, and persists a subject whose history is a
// single open entry effective today.
func (s *Service) Create(ctx context.Context, userID, name, color string, slots []Slot) (*Subject, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidSubject)
	}
	if err := ValidateSlots(slots); err != nil {
		return nil, err
	}
	if err := s.checkConflicts(ctx, userID, "", slots); err != nil {
		return nil, err
	}

	if color == "" {
		color = DefaultColor
	}
	sub := Subject{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Color:     color,
		IsActive:  true,
		Schedules: NewHistory(slots, s.now()),
		CreatedAt: s.now(),
	}
	if err := s.subjects.Save(ctx, sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Update applies an edit. A slot change archives the open entry
// (effectiveTo = yesterday) and appends a new open one; it never rewrites
// closed entries, so statistics for dates before the edit are untouched.
func (s *Service) Update(ctx context.Context, userID, id string, up SubjectUpdate) (*Subject, error) {
	sub, err := s.subjects.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubjectNotFound
	}

	if up.Name != nil {
		if *up.Name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidSubject)
		}
		sub.Name = *up.Name
	}
	if up.Color != nil {
		sub.Color = *up.Color
	}
	if up.IsActive != nil {
		sub.IsActive = *up.IsActive
	}

	if up.Slots != nil {
		if err := ValidateSlots(up.Slots); err != nil {
			return nil, err
		}
		if err := s.checkConflicts(ctx, userID, id, up.Slots); err != nil {
			return nil, err
		}
		sub.Schedules = ApplyEdit(sub.Schedules, up.Slots, s.now())
	}

	if err := s.subjects.Save(ctx, *sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deactivate soft-deletes a subject. The document and its schedule history
// remain for historical aggregation.
func (s *Service) Deactivate(ctx context.Context, userID, id string) error {
	inactive := false
	_, err := s.Update(ctx, userID, id, SubjectUpdate{IsActive: &inactive})
	return err
}

// Get returns a single subject under the ownership filter.
func (s *Service) Get(ctx context.Context, userID, id string) (*Subject, error) {
	sub, err := s.subjects.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubjectNotFound
	}
	return sub, nil
}

// ListActive returns the user's active subjects, newest first.
func (s *Service) ListActive(ctx context.Context, userID string) ([]Subject, error) {
	return s.subjects.List(ctx, userID, true)
}

func (s *Service) checkConflicts(ctx context.Context, userID, selfID string, slots []Slot) error {
	others, err := s.subjects.List(ctx, userID, true)
	if err != nil {
		return err
	}
	if selfID != "" {
		filtered := others[:0]
		for _, o := range others {
			if o.ID != selfID {
				filtered = append(filtered, o)
			}
		}
		others = filtered
	}
	if conflict := FindConflict(slots, others); conflict != nil {
		return conflict
	}
	return nil
}
