/*
Package user holds the user aggregate: identity fields, role, and the
gamification counters the rest of the system keeps in lockstep with the
attendance ledger.

PURPOSE:
  Counters exist so leaderboard and dashboard reads never replay the ledger.
  The price is discipline: every counter mutation flows through the narrow
  primitives in this package and the CounterStore interface, always as a
  RELATIVE delta. Nothing else may write xp, the streak fields, or the two
  day-counters.

KEY CONCEPTS:
  - User: the aggregate with counters and role
  - CounterStore: relative-delta mutations (the only counter write path)
  - AwardXP / ReverseXP: the only xp mutators in the codebase
  - Metric: leaderboard orderings (streak, xp, attendance percentage)

SEE ALSO:
  - attendance/service.go: drives the counters on mark/unmark/delete
  - gamify/streak.go: computes the streak values persisted here
*/
package user

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// USER AGGREGATE
// =============================================================================

// Roles. Role promotion policy (e.g. admin-email lists) lives outside the
// core; the store just records the value.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DefaultMaxSessionsPerDay is the session cap applied to new users.
const DefaultMaxSessionsPerDay = 8

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Image      string    `json:"image,omitempty"`
	Role       string    `json:"role"`
	IsDisabled bool      `json:"isDisabled"`
	CreatedAt  time.Time `json:"createdAt"`

	// Gamification counters. Mutated only via CounterStore deltas.
	XP                  int        `json:"xp"`
	CurrentStreak       int        `json:"currentStreak"`
	LongestStreak       int        `json:"longestStreak"`
	LastAttendanceDate  *time.Time `json:"lastAttendanceDate,omitempty"`
	TotalAttendanceDays int        `json:"totalAttendanceDays"`
	TotalScheduledDays  int        `json:"totalScheduledDays"`

	MaxSessionsPerDay int `json:"maxSessionsPerDay"`
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// ErrNotFound is returned when a user id or email does not resolve.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when creating a user with an email that
// already exists (uniqueness constraint on email).
var ErrDuplicateEmail = errors.New("email already registered")

// Metric selects a leaderboard ordering.
type Metric string

const (
	MetricStreak     Metric = "streak"
	MetricXP         Metric = "xp"
	MetricAttendance Metric = "attendance"
)

// Filter narrows admin user listings.
type Filter struct {
	Search string // matches name or email, case-insensitive
	Page   int    // 1-based
	Limit  int
}

// Updates carries the admin-editable fields. Nil means "leave unchanged".
type Updates struct {
	Name              *string
	Role              *string
	IsDisabled        *bool
	MaxSessionsPerDay *int
}

// Empty reports whether no field is set.
func (u Updates) Empty() bool {
	return u.Name == nil && u.Role == nil && u.IsDisabled == nil && u.MaxSessionsPerDay == nil
}

// Store is the persistence boundary for user documents.
type Store interface {
	Save(ctx context.Context, u User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// List returns a page of users plus the total match count.
	List(ctx context.Context, f Filter) ([]User, int, error)

	// Update applies admin-editable fields. Returns ErrNotFound if the id
	// does not resolve.
	Update(ctx context.Context, id string, up Updates) (*User, error)

	// Delete removes the user document. Cascading cleanup of subjects,
	// records, and focus sessions is the caller's job.
	Delete(ctx context.Context, id string) error

	// TopBy returns up to limit users ordered by the metric, best first.
	TopBy(ctx context.Context, metric Metric, limit int) ([]User, error)
}

// CounterStore mutates the gamification counters. Every mutation is a
// relative adjustment so concurrent updates from the same user (attendance
// mark + focus completion landing together) stay correct.
type CounterStore interface {
	// AdjustXP applies xp += delta.
	AdjustXP(ctx context.Context, userID string, delta int) error

	// AdjustDayCounters applies totalScheduledDays += scheduled and
	// totalAttendanceDays += attended in one statement.
	AdjustDayCounters(ctx context.Context, userID string, scheduled, attended int) error

	// SetStreak persists the evaluator's output: current streak, longest
	// high-water mark, and lastAttendanceDate.
	SetStreak(ctx context.Context, userID string, current, longest int, last time.Time) error
}

// =============================================================================
// XP PRIMITIVES - the only xp mutators
// =============================================================================

// AwardXP adds a non-negative amount to a user's xp.
func AwardXP(ctx context.Context, cs CounterStore, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("award amount must be >= 0, got %d", amount)
	}
	if amount == 0 {
		return nil
	}
	return cs.AdjustXP(ctx, userID, amount)
}

// ReverseXP subtracts a non-negative amount from a user's xp. Callers pass
// the amount STORED on the record being reversed, never a recomputation.
func ReverseXP(ctx context.Context, cs CounterStore, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("reverse amount must be >= 0, got %d", amount)
	}
	if amount == 0 {
		return nil
	}
	return cs.AdjustXP(ctx, userID, -amount)
}
