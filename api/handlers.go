/*
handlers.go - HTTP handler implementations

PURPOSE:
  Implements every API endpoint. Handlers decode and validate request
  bodies, call the domain services, and translate domain errors into
  HTTP status codes. No business logic lives here.

ERROR MAPPING:
  validation failures            400
  schedule conflict, duplicate   409
  not found                      404
  everything else                500

SEE ALSO:
  - server.go: Route wiring
  - dto.go: Request/response types
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/stats"
	"github.com/classtrack/attendance-engine/store/sqlite"
	"github.com/classtrack/attendance-engine/user"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	subjects *schedule.Service
	marks    *attendance.Service
	focus    *focus.Service
	stats    *stats.Service
	users    user.Store
	store    *sqlite.Store
	validate *validator.Validate

	jwtSecret    []byte
	isAdminEmail func(string) bool
}

// NewHandler wires the domain services over the given store.
func NewHandler(store *sqlite.Store, jwtSecret string, isAdminEmail func(string) bool) *Handler {
	users := store.Users()
	return &Handler{
		subjects:     schedule.NewService(store.Subjects()),
		marks:        attendance.NewService(store.Records(), users),
		focus:        focus.NewService(store.Focus(), store),
		stats:        stats.NewService(store.Subjects(), store.Records(), store.Focus(), users),
		users:        users,
		store:        store,
		validate:     validator.New(),
		jwtSecret:    []byte(jwtSecret),
		isAdminEmail: isAdminEmail,
	}
}

// =============================================================================
// SUBJECT ENDPOINTS
// =============================================================================

// ListSubjects returns the caller's subjects.
// GET /api/subjects?includeInactive=true
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var (
		subjects []schedule.Subject
		err      error
	)
	if r.URL.Query().Get("includeInactive") == "true" {
		subjects, err = h.store.Subjects().List(r.Context(), u.ID, false)
	} else {
		subjects, err = h.subjects.ListActive(r.Context(), u.ID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subjects", err)
		return
	}

	dtos := make([]SubjectDTO, 0, len(subjects))
	for i := range subjects {
		dtos = append(dtos, toSubjectDTO(&subjects[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSubject creates a subject with its initial schedule.
// POST /api/subjects
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req CreateSubjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.subjects.Create(r.Context(), u.ID, req.Name, req.Color, toSlots(req.Schedule))
	if err != nil {
		writeDomainError(w, "Failed to create subject", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubjectDTO(sub))
}

// GetSubject returns one subject including its schedule history.
// GET /api/subjects/{id}
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	sub, err := h.subjects.Get(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get subject", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(sub))
}

// UpdateSubject edits a subject. A schedule change starts a new version;
// history stays intact.
// PUT /api/subjects/{id}
func (h *Handler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req UpdateSubjectRequest
	if !h.decode(w, r, &req) {
		return
	}

	up := schedule.SubjectUpdate{
		Name:     req.Name,
		Color:    req.Color,
		IsActive: req.IsActive,
	}
	if req.Schedule != nil {
		up.Slots = toSlots(req.Schedule)
	}

	sub, err := h.subjects.Update(r.Context(), u.ID, chi.URLParam(r, "id"), up)
	if err != nil {
		writeDomainError(w, "Failed to update subject", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(sub))
}

// DeleteSubject soft-deletes a subject. Attendance history survives.
// DELETE /api/subjects/{id}
func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	if err := h.subjects.Deactivate(r.Context(), u.ID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete subject", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// ATTENDANCE ENDPOINTS
// =============================================================================

// GetAttendance returns records for one day (?date=) or a range
// (?startDate=&endDate=). Defaults to today.
// GET /api/attendance
func (h *Handler) GetAttendance(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	q := r.URL.Query()

	var (
		records []attendance.Record
		err     error
	)
	switch {
	case q.Get("startDate") != "" || q.Get("endDate") != "":
		var from, to time.Time
		if from, err = parseDay(q.Get("startDate")); err == nil {
			to, err = parseDay(q.Get("endDate"))
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date range", err)
			return
		}
		records, err = h.marks.RecordsInRange(r.Context(), u.ID, from, to)
	case q.Get("date") != "":
		var day time.Time
		if day, err = parseDay(q.Get("date")); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		records, err = h.marks.RecordsForDate(r.Context(), u.ID, day)
	default:
		records, err = h.marks.RecordsForDate(r.Context(), u.ID, time.Now().UTC())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}

	dtos := make([]RecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkAttendance toggles one attendance cell: create on empty, remove on
// same status, flip on different status.
// POST /api/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req MarkAttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionNumber == 0 {
		req.SessionNumber = 1
	}
	if req.SessionNumber > u.MaxSessionsPerDay {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("sessionNumber exceeds the limit of %d", u.MaxSessionsPerDay), nil)
		return
	}

	var date time.Time
	if req.Date != "" {
		date, _ = parseDay(req.Date)
	}

	action, rec, err := h.marks.Mark(r.Context(), u.ID, req.SubjectID, date,
		req.SessionNumber, attendance.Status(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to mark attendance", err)
		return
	}

	resp := MarkResponse{Action: string(action)}
	if rec != nil {
		dto := toRecordDTO(*rec)
		resp.Record = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// MonthlyStats returns the month rollup: heatmap day map, per-subject
// breakdown, attendance rate, xp. Scheduled counts replay the schedule
// version effective on each day.
// GET /api/attendance/monthly-stats?month=&year=
func (h *Handler) MonthlyStats(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	now := time.Now().UTC()

	month := int(now.Month())
	year := now.Year()
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		month = m
	}
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 2000 || y > 2200 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	monthly, err := h.stats.Monthly(r.Context(), u.ID, year, time.Month(month))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to aggregate month", err)
		return
	}
	writeJSON(w, http.StatusOK, monthly)
}

// =============================================================================
// FOCUS ENDPOINTS
// =============================================================================

// LogFocus records a focus session. Completed sessions earn xp.
// POST /api/focus
func (h *Handler) LogFocus(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req LogFocusRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.focus.Log(r.Context(), u.ID, req.SubjectID, req.Duration, req.Completed)
	if err != nil {
		writeDomainError(w, "Failed to log focus session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// ListFocus returns session history plus a rollup for the period.
// GET /api/focus?period=today|week|all&limit=
func (h *Handler) ListFocus(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	q := r.URL.Query()

	period := focus.Period(q.Get("period"))
	if period == "" {
		period = focus.PeriodAll
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	sessions, rollup, err := h.focus.History(r.Context(), u.ID, period, limit)
	if err != nil {
		writeDomainError(w, "Failed to list focus sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, FocusHistoryDTO{Sessions: sessions, Stats: rollup})
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// UserStats returns the caller's gamification summary.
// GET /api/user/stats
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	// Re-read: counters may have moved since the auth middleware loaded
	// the user.
	u, err := h.users.Get(r.Context(), currentUser(r).ID)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user", err)
		return
	}

	dto := UserStatsDTO{
		XP:                  u.XP,
		CurrentStreak:       u.CurrentStreak,
		LongestStreak:       u.LongestStreak,
		TotalAttendanceDays: u.TotalAttendanceDays,
		TotalScheduledDays:  u.TotalScheduledDays,
		AttendanceRate:      gamify.AttendancePercentage(u.TotalAttendanceDays, u.TotalScheduledDays),
	}
	if u.LastAttendanceDate != nil {
		dto.LastAttendanceDate = u.LastAttendanceDate.Format("2006-01-02")
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetSettings returns the caller's settings.
// GET /api/user/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	writeJSON(w, http.StatusOK, SettingsDTO{MaxSessionsPerDay: u.MaxSessionsPerDay})
}

// UpdateSettings edits the caller's settings.
// PATCH /api/user/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)

	var req UpdateSettingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.users.Update(r.Context(), u.ID, user.Updates{
		MaxSessionsPerDay: req.MaxSessionsPerDay,
	})
	if err != nil {
		writeDomainError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{MaxSessionsPerDay: updated.MaxSessionsPerDay})
}

// Leaderboard ranks users by streak, xp, or attendance rate.
// GET /api/leaderboard?metric=streak|xp|attendance&limit=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	metric := user.Metric(q.Get("metric"))
	switch metric {
	case "":
		metric = user.MetricStreak
	case user.MetricStreak, user.MetricXP, user.MetricAttendance:
	default:
		writeError(w, http.StatusBadRequest, "Unknown metric", nil)
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	users, err := h.users.TopBy(r.Context(), metric, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build leaderboard", err)
		return
	}

	entries := make([]LeaderboardEntryDTO, 0, len(users))
	for i, u := range users {
		entries = append(entries, LeaderboardEntryDTO{
			Rank:           i + 1,
			Name:           u.Name,
			Image:          u.Image,
			XP:             u.XP,
			CurrentStreak:  u.CurrentStreak,
			AttendanceRate: gamify.AttendancePercentage(u.TotalAttendanceDays, u.TotalScheduledDays),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// AdminListUsers returns a paginated user listing.
// GET /api/admin/users?search=&page=&limit=
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := user.Filter{Search: q.Get("search"), Page: 1, Limit: 50}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			f.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			f.Limit = n
		}
	}

	ctx := r.Context()
	users, total, err := h.users.List(ctx, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	since := schedule.Midnight(time.Now().UTC()).AddDate(0, 0, -30)
	dtos := make([]AdminListEntryDTO, 0, len(users))
	for _, u := range users {
		entry := AdminListEntryDTO{AdminUserDTO: toAdminUserDTO(u)}
		if entry.SubjectCount, err = h.store.CountActiveSubjects(ctx, u.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to count subjects", err)
			return
		}
		if entry.RecentAttendance, err = h.store.CountRecordsSince(ctx, u.ID, since); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to count records", err)
			return
		}
		dtos = append(dtos, entry)
	}
	writeJSON(w, http.StatusOK, UserListDTO{Users: dtos, Total: total, Page: f.Page, Limit: f.Limit})
}

// AdminGetUser returns one user with activity totals.
// GET /api/admin/users/{id}
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	u, err := h.users.Get(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	detail := AdminUserDetailDTO{AdminUserDTO: toAdminUserDTO(*u)}
	if detail.ActiveSubjects, err = h.store.CountActiveSubjects(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count subjects", err)
		return
	}
	if detail.TotalRecords, err = h.store.CountRecords(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count records", err)
		return
	}
	since := schedule.Midnight(time.Now().UTC()).AddDate(0, 0, -30)
	if detail.RecordsLast30, err = h.store.CountRecordsSince(ctx, id, since); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count records", err)
		return
	}
	if detail.FocusSessions, detail.TotalFocusMinute, err = h.store.FocusTotals(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to total focus sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AdminUpdateUser edits another user's account.
// PUT /api/admin/users/{id}
func (h *Handler) AdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	up := user.Updates{
		Name:              req.Name,
		Role:              req.Role,
		IsDisabled:        req.IsDisabled,
		MaxSessionsPerDay: req.MaxSessionsPerDay,
	}

	u, err := h.users.Update(r.Context(), chi.URLParam(r, "id"), up)
	if err != nil {
		writeDomainError(w, "Failed to update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminUserDTO(*u))
}

// AdminDeleteUser removes a user and all their data.
// DELETE /api/admin/users/{id}
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == currentUser(r).ID {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account", nil)
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AdminListAttendance returns a user's records newest first, optionally
// bounded to one month (?month=&year=).
// GET /api/admin/users/{id}/attendance
func (h *Handler) AdminListAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := chi.URLParam(r, "id")

	var from, to *time.Time
	if q.Get("month") != "" && q.Get("year") != "" {
		month, errM := strconv.Atoi(q.Get("month"))
		year, errY := strconv.Atoi(q.Get("year"))
		if errM != nil || errY != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "Invalid month/year", nil)
			return
		}
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		from, to = &start, &end
	}

	records, err := h.store.ListRecordsDesc(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}

	dtos := make([]RecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminDeleteRecord removes one attendance record, reversing exactly the
// xp and counters its creation applied.
// DELETE /api/admin/users/{id}/attendance/{recordId}
func (h *Handler) AdminDeleteRecord(w http.ResponseWriter, r *http.Request) {
	err := h.marks.Delete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "recordId"))
	if err != nil {
		writeDomainError(w, "Failed to delete record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON request body. On failure it writes the
// error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func toSlots(reqs []SlotRequest) []schedule.Slot {
	slots := make([]schedule.Slot, 0, len(reqs))
	for _, s := range reqs {
		slots = append(slots, schedule.Slot{
			Day:           schedule.Day(s.Day),
			SessionNumber: s.SessionNumber,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
		})
	}
	return slots
}

func parseDay(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleConflict),
		errors.Is(err, attendance.ErrDuplicateRecord),
		errors.Is(err, user.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, schedule.ErrSubjectNotFound),
		errors.Is(err, attendance.ErrRecordNotFound),
		errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, schedule.ErrInvalidSubject),
		errors.Is(err, schedule.ErrEmptySlots),
		errors.Is(err, schedule.ErrDuplicateSlot),
		errors.Is(err, schedule.ErrInvalidSlot),
		errors.Is(err, attendance.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
