/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through Handler.validate before touching services. Domain rules
  (schedule conflicts, duplicate cells) stay in the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SlotRequest is one weekly schedule slot in a subject payload.
type SlotRequest struct {
	Day           string `json:"day" validate:"required,oneof=Mon Tue Wed Thu Fri Sat Sun"`
	SessionNumber int    `json:"sessionNumber" validate:"required,min=1,max=15"`
	StartTime     string `json:"startTime" validate:"omitempty,datetime=15:04"`
	EndTime       string `json:"endTime" validate:"omitempty,datetime=15:04"`
}

// CreateSubjectRequest creates a subject with its initial schedule.
type CreateSubjectRequest struct {
	Name     string        `json:"name" validate:"required,min=1,max=100"`
	Color    string        `json:"color" validate:"omitempty,hexcolor"`
	Schedule []SlotRequest `json:"schedule" validate:"required,min=1,dive"`
}

// UpdateSubjectRequest edits a subject. Nil fields are left unchanged; a
// non-nil Schedule starts a new schedule version.
type UpdateSubjectRequest struct {
	Name     *string       `json:"name" validate:"omitempty,min=1,max=100"`
	Color    *string       `json:"color" validate:"omitempty,hexcolor"`
	IsActive *bool         `json:"isActive"`
	Schedule []SlotRequest `json:"schedule" validate:"omitempty,min=1,dive"`
}

// MarkAttendanceRequest toggles one attendance cell. Date defaults to
// today; SessionNumber defaults to 1.
type MarkAttendanceRequest struct {
	SubjectID     string `json:"subjectId" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=present absent late"`
	SessionNumber int    `json:"sessionNumber" validate:"omitempty,min=1,max=15"`
	Date          string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// LogFocusRequest records a focus session. Duration is in minutes.
type LogFocusRequest struct {
	Duration  int    `json:"duration" validate:"required,min=1,max=480"`
	SubjectID string `json:"subjectId"`
	Completed bool   `json:"completed"`
}

// UpdateSettingsRequest edits the caller's settings.
type UpdateSettingsRequest struct {
	MaxSessionsPerDay *int `json:"maxSessionsPerDay" validate:"omitempty,min=1,max=15"`
}

// AdminUpdateUserRequest edits another user's account.
type AdminUpdateUserRequest struct {
	Name              *string `json:"name" validate:"omitempty,min=1,max=100"`
	Role              *string `json:"role" validate:"omitempty,oneof=user admin"`
	IsDisabled        *bool   `json:"isDisabled"`
	MaxSessionsPerDay *int    `json:"maxSessionsPerDay" validate:"omitempty,min=1,max=15"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScheduleEntryDTO is one schedule version in a subject response.
type ScheduleEntryDTO struct {
	Slots         []schedule.Slot `json:"slots"`
	EffectiveFrom string          `json:"effectiveFrom"`
	EffectiveTo   *string         `json:"effectiveTo"`
}

// SubjectDTO represents a subject in API responses. Schedule is the
// currently effective slot set; ScheduleHistory has every version.
type SubjectDTO struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Color           string             `json:"color"`
	IsActive        bool               `json:"isActive"`
	Schedule        []schedule.Slot    `json:"schedule"`
	ScheduleHistory []ScheduleEntryDTO `json:"scheduleHistory"`
	CreatedAt       string             `json:"createdAt"`
}

// RecordDTO represents an attendance record in API responses.
type RecordDTO struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subjectId"`
	Date          string `json:"date"`
	SessionNumber int    `json:"sessionNumber"`
	Status        string `json:"status"`
	XPEarned      int    `json:"xpEarned"`
	MarkedAt      string `json:"markedAt"`
}

// MarkResponse reports what a mark toggle did. Record is null when the
// toggle removed the record.
type MarkResponse struct {
	Action string     `json:"action"`
	Record *RecordDTO `json:"record"`
}

// UserStatsDTO is the caller's gamification summary.
type UserStatsDTO struct {
	XP                  int    `json:"xp"`
	CurrentStreak       int    `json:"currentStreak"`
	LongestStreak       int    `json:"longestStreak"`
	LastAttendanceDate  string `json:"lastAttendanceDate,omitempty"`
	TotalAttendanceDays int    `json:"totalAttendanceDays"`
	TotalScheduledDays  int    `json:"totalScheduledDays"`
	AttendanceRate      int    `json:"attendanceRate"`
}

// SettingsDTO is the caller's editable settings.
type SettingsDTO struct {
	MaxSessionsPerDay int `json:"maxSessionsPerDay"`
}

// FocusHistoryDTO wraps a session listing with its rollup.
type FocusHistoryDTO struct {
	Sessions []focus.Session `json:"sessions"`
	Stats    focus.Stats     `json:"stats"`
}

// LeaderboardEntryDTO is one leaderboard row.
type LeaderboardEntryDTO struct {
	Rank           int    `json:"rank"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	XP             int    `json:"xp"`
	CurrentStreak  int    `json:"currentStreak"`
	AttendanceRate int    `json:"attendanceRate"`
}

// AdminUserDTO represents a user in admin listings.
type AdminUserDTO struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	Image               string `json:"image,omitempty"`
	Role                string `json:"role"`
	IsDisabled          bool   `json:"isDisabled"`
	XP                  int    `json:"xp"`
	CurrentStreak       int    `json:"currentStreak"`
	LongestStreak       int    `json:"longestStreak"`
	TotalAttendanceDays int    `json:"totalAttendanceDays"`
	TotalScheduledDays  int    `json:"totalScheduledDays"`
	MaxSessionsPerDay   int    `json:"maxSessionsPerDay"`
	CreatedAt           string `json:"createdAt"`
}

// AdminUserDetailDTO adds activity totals to the base user view.
type AdminUserDetailDTO struct {
	AdminUserDTO
	ActiveSubjects   int `json:"activeSubjects"`
	TotalRecords     int `json:"totalRecords"`
	RecordsLast30    int `json:"recordsLast30Days"`
	FocusSessions    int `json:"focusSessions"`
	TotalFocusMinute int `json:"totalFocusMinutes"`
}

// AdminListEntryDTO is one row of the admin user listing, with the
// activity columns the listing table shows.
type AdminListEntryDTO struct {
	AdminUserDTO
	SubjectCount     int `json:"subjectCount"`
	RecentAttendance int `json:"recentAttendance"`
}

// UserListDTO is a paginated admin user listing.
type UserListDTO struct {
	Users []AdminListEntryDTO `json:"users"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toSubjectDTO(s *schedule.Subject) SubjectDTO {
	history := make([]ScheduleEntryDTO, 0, len(s.Schedules))
	for _, e := range s.Schedules {
		entry := ScheduleEntryDTO{
			Slots:         e.Slots,
			EffectiveFrom: e.EffectiveFrom.Format("2006-01-02"),
		}
		if e.EffectiveTo != nil {
			to := e.EffectiveTo.Format("2006-01-02")
			entry.EffectiveTo = &to
		}
		history = append(history, entry)
	}

	current := []schedule.Slot{}
	if cur := s.CurrentEntry(); cur != nil {
		current = cur.Slots
	}

	return SubjectDTO{
		ID:              s.ID,
		Name:            s.Name,
		Color:           s.Color,
		IsActive:        s.IsActive,
		Schedule:        current,
		ScheduleHistory: history,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toRecordDTO(r attendance.Record) RecordDTO {
	return RecordDTO{
		ID:            r.ID,
		SubjectID:     r.SubjectID,
		Date:          r.Date.Format("2006-01-02"),
		SessionNumber: r.SessionNumber,
		Status:        string(r.Status),
		XPEarned:      r.XPEarned,
		MarkedAt:      r.MarkedAt.UTC().Format(time.RFC3339),
	}
}

func toAdminUserDTO(u user.User) AdminUserDTO {
	return AdminUserDTO{
		ID:                  u.ID,
		Name:                u.Name,
		Email:               u.Email,
		Image:               u.Image,
		Role:                string(u.Role),
		IsDisabled:          u.IsDisabled,
		XP:                  u.XP,
		CurrentStreak:       u.CurrentStreak,
		LongestStreak:       u.LongestStreak,
		TotalAttendanceDays: u.TotalAttendanceDays,
		TotalScheduledDays:  u.TotalScheduledDays,
		MaxSessionsPerDay:   u.MaxSessionsPerDay,
		CreatedAt:           u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
