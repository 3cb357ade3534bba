/*
Package sqlite provides the SQLite-backed implementation of every storage
interface in the engine.

PURPOSE:
  One Store owns the database; typed views expose each domain's interface
  over the shared core:

    Store.Subjects()  schedule.SubjectStore   subject documents with
                                              embedded schedule history
    Store.Records()   attendance.TxStore      ledger rows + counter deltas
    Store.Users()     user.Store              user documents
    Store.Focus()     focus.Store             focus-session rows

  Store itself implements user.CounterStore. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users               aggregate counters, role, settings; email is UNIQUE
  subjects            one row per subject, schedule history as a JSON doc
                      (embedded-array shape, matching a document store)
  attendance_records  the ledger; UNIQUE(user_id, subject_id, date,
                      session_number) is the race arbiter for concurrent
                      marks - one winner, one ErrDuplicateRecord
  focus_sessions      timed work sessions

COUNTER DISCIPLINE:
  Counter updates are single relative-adjustment statements
  (SET xp = xp + ?), never read-modify-write of an absolute value, so
  concurrent updates for the same user compose correctly.

TRANSACTIONS:
  WithTx runs a ledger write and its counter updates as one unit. A mark
  that fails mid-way rolls back entirely instead of leaving a record
  without its counters.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. With PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := attendance.NewService(store.Records(), store.Users())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - attendance/types.go, user/user.go, schedule/service.go, focus/focus.go:
    interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/classtrack/attendance-engine/attendance"
	"github.com/classtrack/attendance-engine/focus"
	"github.com/classtrack/attendance-engine/gamify"
	"github.com/classtrack/attendance-engine/schedule"
	"github.com/classtrack/attendance-engine/user"
)

// dayFormat is the canonical on-disk form for ledger dates and
// last-attendance markers. Lexical order equals chronological order.
const dayFormat = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subjects returns the subject-store view.
func (s *Store) Subjects() schedule.SubjectStore { return &subjectStore{s} }

// Users returns the user-store view.
func (s *Store) Users() user.Store { return &userStore{s} }

// Records returns the attendance ledger view, including WithTx.
func (s *Store) Records() attendance.TxStore { return &recordStore{s} }

// Focus returns the focus-session view.
func (s *Store) Focus() focus.Store { return &focusStore{s} }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (aggregate counters live here; only relative updates touch them)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		image TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		is_disabled INTEGER NOT NULL DEFAULT 0,
		xp INTEGER NOT NULL DEFAULT 0,
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		last_attendance_date TEXT,
		total_attendance_days INTEGER NOT NULL DEFAULT 0,
		total_scheduled_days INTEGER NOT NULL DEFAULT 0,
		max_sessions_per_day INTEGER NOT NULL DEFAULT 8,
		created_at TEXT NOT NULL
	);

	-- Leaderboard orderings
	CREATE INDEX IF NOT EXISTS idx_users_xp ON users(xp DESC);
	CREATE INDEX IF NOT EXISTS idx_users_streak ON users(current_streak DESC);

	-- Subjects (schedule history embedded as JSON, document-store shape)
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		schedules_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subjects_user ON subjects(user_id);
	CREATE INDEX IF NOT EXISTS idx_subjects_user_active ON subjects(user_id, is_active);

	-- Attendance ledger
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		date TEXT NOT NULL,
		session_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		xp_earned INTEGER NOT NULL DEFAULT 0,
		marked_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the composite key is the race arbiter. Two concurrent marks
	-- for the same cell produce one row and one unique-constraint failure.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_attendance_cell
		ON attendance_records(user_id, subject_id, date, session_number);

	CREATE INDEX IF NOT EXISTS idx_records_user_date
		ON attendance_records(user_id, date);

	-- Focus sessions
	CREATE TABLE IF NOT EXISTS focus_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT,
		duration INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT NOT NULL,
		xp_earned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_focus_user ON focus_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_focus_user_completed
		ON focus_sessions(user_id, completed, completed_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runner abstracts *sql.DB and *sql.Tx so the write paths can run either
// standalone or inside WithTx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ATTENDANCE LEDGER (attendance.RecordStore)
// =============================================================================

type recordStore struct {
	*Store
}

const recordColumns = "id, user_id, subject_id, date, session_number, status, xp_earned, marked_at"

// Insert persists a new ledger row. Returns attendance.ErrDuplicateRecord
// when the (user, subject, date, session) cell is already taken.
func (r *recordStore) Insert(ctx context.Context, rec attendance.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return insertRecord(ctx, r.db, rec)
}

func insertRecord(ctx context.Context, q runner, rec attendance.Record) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO attendance_records
		(`+recordColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.SubjectID,
		rec.Date.Format(dayFormat), rec.SessionNumber, string(rec.Status), rec.XPEarned,
		rec.MarkedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert attendance record: %w", err)
	}
	return nil
}

// Find returns the record for the composite key, or nil when the cell is
// empty.
func (r *recordStore) Find(ctx context.Context, userID, subjectID string, date time.Time, sessionNumber int) (*attendance.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findRecord(ctx, r.db, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND subject_id = ? AND date = ? AND session_number = ?`,
		userID, subjectID, date.Format(dayFormat), sessionNumber)
}

// FindByID returns the record only if it belongs to userID.
func (r *recordStore) FindByID(ctx context.Context, userID, recordID string) (*attendance.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return findRecord(ctx, r.db, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE id = ? AND user_id = ?`,
		recordID, userID)
}

func findRecord(ctx context.Context, q runner, query string, args ...any) (*attendance.Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance record: %w", err)
	}
	return &rec, nil
}

// UpdateStatus flips the status of an existing record in place.
func (r *recordStore) UpdateStatus(ctx context.Context, recordID string, status attendance.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return updateRecordStatus(ctx, r.db, recordID, status)
}

func updateRecordStatus(ctx context.Context, q runner, recordID string, status attendance.Status) error {
	res, err := q.ExecContext(ctx,
		"UPDATE attendance_records SET status = ? WHERE id = ?",
		string(status), recordID)
	if err != nil {
		return fmt.Errorf("failed to update attendance status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return attendance.ErrRecordNotFound
	}
	return nil
}

// Delete removes a record by id.
func (r *recordStore) Delete(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return deleteRecord(ctx, r.db, recordID)
}

func deleteRecord(ctx context.Context, q runner, recordID string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM attendance_records WHERE id = ?", recordID)
	if err != nil {
		return fmt.Errorf("failed to delete attendance record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return attendance.ErrRecordNotFound
	}
	return nil
}

// ListByDate returns the user's records for one day.
func (r *recordStore) ListByDate(ctx context.Context, userID string, date time.Time) ([]attendance.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND date = ?
		ORDER BY session_number ASC`,
		userID, date.Format(dayFormat))
}

// ListRange returns records with date in [from, to], inclusive.
func (r *recordStore) ListRange(ctx context.Context, userID string, from, to time.Time) ([]attendance.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, session_number ASC`,
		userID, from.Format(dayFormat), to.Format(dayFormat))
}

// ListRecordsDesc returns a user's records newest first, optionally bounded
// to [from, to]. Admin listing path.
func (s *Store) ListRecordsDesc(ctx context.Context, userID string, from, to *time.Time) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + recordColumns + ` FROM attendance_records
		WHERE user_id = ?`
	args := []any{userID}
	if from != nil && to != nil {
		query += " AND date >= ? AND date <= ?"
		args = append(args, from.Format(dayFormat), to.Format(dayFormat))
	}
	query += " ORDER BY date DESC, session_number ASC"

	return s.queryRecords(ctx, query, args...)
}

// CountRecords returns the user's total ledger size.
func (s *Store) CountRecords(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attendance_records WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// CountRecordsSince counts ledger rows dated on or after the given day.
func (s *Store) CountRecordsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM attendance_records WHERE user_id = ? AND date >= ?",
		userID, since.Format(dayFormat)).Scan(&n)
	return n, err
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]attendance.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(sc rowScanner) (attendance.Record, error) {
	var (
		rec      attendance.Record
		date     string
		status   string
		markedAt string
	)
	err := sc.Scan(&rec.ID, &rec.UserID, &rec.SubjectID, &date,
		&rec.SessionNumber, &status, &rec.XPEarned, &markedAt)
	if err != nil {
		return rec, err
	}
	rec.Date, _ = time.Parse(dayFormat, date)
	rec.Status = attendance.Status(status)
	rec.MarkedAt, _ = time.Parse(time.RFC3339, markedAt)
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL LEDGER (attendance.TxStore)
// =============================================================================

// WithTx runs fn against stores bound to one database transaction. If fn
// returns an error, everything rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(attendance.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStores{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStores is the transaction-bound view handed to WithTx callbacks.
type txStores struct {
	tx *sql.Tx
}

func (t *txStores) Insert(ctx context.Context, rec attendance.Record) error {
	return insertRecord(ctx, t.tx, rec)
}

func (t *txStores) Delete(ctx context.Context, recordID string) error {
	return deleteRecord(ctx, t.tx, recordID)
}

func (t *txStores) UpdateStatus(ctx context.Context, recordID string, status attendance.Status) error {
	return updateRecordStatus(ctx, t.tx, recordID, status)
}

func (t *txStores) Find(ctx context.Context, userID, subjectID string, date time.Time, sessionNumber int) (*attendance.Record, error) {
	return findRecord(ctx, t.tx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND subject_id = ? AND date = ? AND session_number = ?`,
		userID, subjectID, date.Format(dayFormat), sessionNumber)
}

func (t *txStores) FindByID(ctx context.Context, userID, recordID string) (*attendance.Record, error) {
	return findRecord(ctx, t.tx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE id = ? AND user_id = ?`,
		recordID, userID)
}

func (t *txStores) ListByDate(ctx context.Context, userID string, date time.Time) ([]attendance.Record, error) {
	return txQueryRecords(ctx, t.tx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND date = ?
		ORDER BY session_number ASC`,
		userID, date.Format(dayFormat))
}

func (t *txStores) ListRange(ctx context.Context, userID string, from, to time.Time) ([]attendance.Record, error) {
	return txQueryRecords(ctx, t.tx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, session_number ASC`,
		userID, from.Format(dayFormat), to.Format(dayFormat))
}

func txQueryRecords(ctx context.Context, q runner, query string, args ...any) ([]attendance.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txStores) AdjustXP(ctx context.Context, userID string, delta int) error {
	return adjustXP(ctx, t.tx, userID, delta)
}

func (t *txStores) AdjustDayCounters(ctx context.Context, userID string, scheduled, attended int) error {
	return adjustDayCounters(ctx, t.tx, userID, scheduled, attended)
}

func (t *txStores) SetStreak(ctx context.Context, userID string, current, longest int, last time.Time) error {
	return setStreak(ctx, t.tx, userID, current, longest, last)
}

// =============================================================================
// USER COUNTERS (user.CounterStore)
// =============================================================================

// AdjustXP applies xp += delta as a single relative update.
func (s *Store) AdjustXP(ctx context.Context, userID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustXP(ctx, s.db, userID, delta)
}

func adjustXP(ctx context.Context, q runner, userID string, delta int) error {
	res, err := q.ExecContext(ctx,
		"UPDATE users SET xp = xp + ? WHERE id = ?", delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust xp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// AdjustDayCounters applies both day-counter deltas in one statement.
func (s *Store) AdjustDayCounters(ctx context.Context, userID string, scheduled, attended int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustDayCounters(ctx, s.db, userID, scheduled, attended)
}

func adjustDayCounters(ctx context.Context, q runner, userID string, scheduled, attended int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users SET
			total_scheduled_days = total_scheduled_days + ?,
			total_attendance_days = total_attendance_days + ?
		WHERE id = ?`,
		scheduled, attended, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust day counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// SetStreak persists the streak evaluator's output.
func (s *Store) SetStreak(ctx context.Context, userID string, current, longest int, last time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setStreak(ctx, s.db, userID, current, longest, last)
}

func setStreak(ctx context.Context, q runner, userID string, current, longest int, last time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users SET
			current_streak = ?,
			longest_streak = ?,
			last_attendance_date = ?
		WHERE id = ?`,
		current, longest, last.Format(dayFormat), userID)
	if err != nil {
		return fmt.Errorf("failed to set streak: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

// =============================================================================
// USER STORE (user.Store)
// =============================================================================

type userStore struct {
	*Store
}

const userColumns = `id, name, email, image, role, is_disabled, xp,
	current_streak, longest_streak, last_attendance_date,
	total_attendance_days, total_scheduled_days, max_sessions_per_day, created_at`

// Save inserts a user document, or refreshes the profile fields when the
// id already exists (sign-in upsert). Counters are never written here.
func (u *userStore) Save(ctx context.Context, usr user.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if usr.Role == "" {
		usr.Role = user.RoleUser
	}
	if usr.MaxSessionsPerDay == 0 {
		usr.MaxSessionsPerDay = user.DefaultMaxSessionsPerDay
	}
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = time.Now().UTC()
	}

	var lastDate any
	if usr.LastAttendanceDate != nil {
		lastDate = usr.LastAttendanceDate.Format(dayFormat)
	}

	_, err := u.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			image = excluded.image`,
		usr.ID, usr.Name, usr.Email, nullString(usr.Image), string(usr.Role),
		boolInt(usr.IsDisabled), usr.XP,
		usr.CurrentStreak, usr.LongestStreak, lastDate,
		usr.TotalAttendanceDays, usr.TotalScheduledDays, usr.MaxSessionsPerDay,
		usr.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return user.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Get retrieves a user by id, or nil.
func (u *userStore) Get(ctx context.Context, id string) (*user.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByEmail retrieves a user by email, or nil.
func (u *userStore) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (u *userStore) getUser(ctx context.Context, query string, args ...any) (*user.User, error) {
	usr, err := scanUser(u.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return usr, nil
}

// List returns a page of users plus the total match count.
func (u *userStore) List(ctx context.Context, f user.Filter) ([]user.User, int, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	where := ""
	args := []any{}
	if f.Search != "" {
		where = " WHERE (name LIKE ? COLLATE NOCASE OR email LIKE ? COLLATE NOCASE)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := u.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := "SELECT " + userColumns + " FROM users" + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	users, err := u.queryUsers(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Update applies admin-editable fields and returns the updated document.
func (u *userStore) Update(ctx context.Context, id string, up user.Updates) (*user.User, error) {
	if up.Empty() {
		return u.Get(ctx, id)
	}

	u.mu.Lock()

	sets := []string{}
	args := []any{}
	if up.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *up.Name)
	}
	if up.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, string(*up.Role))
	}
	if up.IsDisabled != nil {
		sets = append(sets, "is_disabled = ?")
		args = append(args, boolInt(*up.IsDisabled))
	}
	if up.MaxSessionsPerDay != nil {
		sets = append(sets, "max_sessions_per_day = ?")
		args = append(args, *up.MaxSessionsPerDay)
	}
	args = append(args, id)

	res, err := u.db.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	u.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, user.ErrNotFound
	}
	return u.Get(ctx, id)
}

// Delete removes the user and every document referencing them, in one
// transaction.
func (u *userStore) Delete(ctx context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sqlTx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}

	for _, stmt := range []string{
		"DELETE FROM attendance_records WHERE user_id = ?",
		"DELETE FROM focus_sessions WHERE user_id = ?",
		"DELETE FROM subjects WHERE user_id = ?",
	} {
		if _, err := sqlTx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete user data: %w", err)
		}
	}
	return sqlTx.Commit()
}

// TopBy returns up to limit users ordered by the metric, best first. The
// attendance metric has no stored column, so it sorts in memory.
func (u *userStore) TopBy(ctx context.Context, metric user.Metric, limit int) ([]user.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	switch metric {
	case user.MetricXP:
		return u.queryUsers(ctx,
			"SELECT "+userColumns+" FROM users ORDER BY xp DESC LIMIT ?", limit)
	case user.MetricAttendance:
		users, err := u.queryUsers(ctx, "SELECT "+userColumns+" FROM users")
		if err != nil {
			return nil, err
		}
		sortByAttendance(users)
		if len(users) > limit {
			users = users[:limit]
		}
		return users, nil
	default: // streak
		return u.queryUsers(ctx,
			"SELECT "+userColumns+" FROM users ORDER BY current_streak DESC LIMIT ?", limit)
	}
}

func sortByAttendance(users []user.User) {
	sort.SliceStable(users, func(i, j int) bool {
		a := gamify.AttendancePercentage(users[i].TotalAttendanceDays, users[i].TotalScheduledDays)
		b := gamify.AttendancePercentage(users[j].TotalAttendanceDays, users[j].TotalScheduledDays)
		return a > b
	})
}

func (u *userStore) queryUsers(ctx context.Context, query string, args ...any) ([]user.User, error) {
	rows, err := u.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		usr, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *usr)
	}
	return users, rows.Err()
}

func scanUser(sc rowScanner) (*user.User, error) {
	var (
		usr        user.User
		image      sql.NullString
		role       string
		isDisabled int
		lastDate   sql.NullString
		createdAt  string
	)
	err := sc.Scan(&usr.ID, &usr.Name, &usr.Email, &image, &role, &isDisabled, &usr.XP,
		&usr.CurrentStreak, &usr.LongestStreak, &lastDate,
		&usr.TotalAttendanceDays, &usr.TotalScheduledDays, &usr.MaxSessionsPerDay, &createdAt)
	if err != nil {
		return nil, err
	}
	usr.Image = image.String
	usr.Role = role
	usr.IsDisabled = isDisabled != 0
	if lastDate.Valid {
		t, _ := time.Parse(dayFormat, lastDate.String)
		usr.LastAttendanceDate = &t
	}
	usr.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &usr, nil
}

// =============================================================================
// SUBJECT STORE (schedule.SubjectStore)
// =============================================================================

type subjectStore struct {
	*Store
}

// Save inserts or replaces a subject document including its schedule
// history.
func (st *subjectStore) Save(ctx context.Context, sub schedule.Subject) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	schedulesJSON, err := json.Marshal(sub.Schedules)
	if err != nil {
		return fmt.Errorf("failed to encode schedules: %w", err)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err = st.db.ExecContext(ctx, `
		INSERT INTO subjects (id, user_id, name, color, is_active, schedules_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			is_active = excluded.is_active,
			schedules_json = excluded.schedules_json`,
		sub.ID, sub.UserID, sub.Name, sub.Color, boolInt(sub.IsActive),
		string(schedulesJSON), sub.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}
	return nil
}

// Get retrieves a subject under the ownership filter, or nil.
func (st *subjectStore) Get(ctx context.Context, userID, id string) (*schedule.Subject, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	row := st.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, color, is_active, schedules_json, created_at
		FROM subjects WHERE id = ? AND user_id = ?`,
		id, userID)
	sub, err := scanSubject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subject: %w", err)
	}
	return sub, nil
}

// List returns the user's subjects, newest first.
func (st *subjectStore) List(ctx context.Context, userID string, activeOnly bool) ([]schedule.Subject, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	query := `
		SELECT id, user_id, name, color, is_active, schedules_json, created_at
		FROM subjects WHERE user_id = ?`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := st.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []schedule.Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, *sub)
	}
	return subjects, rows.Err()
}

// CountActiveSubjects returns the user's active subject count. Admin
// detail path.
func (s *Store) CountActiveSubjects(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subjects WHERE user_id = ? AND is_active = 1", userID).Scan(&n)
	return n, err
}

func scanSubject(sc rowScanner) (*schedule.Subject, error) {
	var (
		sub           schedule.Subject
		isActive      int
		schedulesJSON string
		createdAt     string
	)
	err := sc.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.Color, &isActive, &schedulesJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	sub.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(schedulesJSON), &sub.Schedules); err != nil {
		return nil, fmt.Errorf("failed to decode schedules: %w", err)
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sub, nil
}

// =============================================================================
// FOCUS SESSION STORE (focus.Store)
// =============================================================================

type focusStore struct {
	*Store
}

// Insert persists a focus session.
func (f *focusStore) Insert(ctx context.Context, sess focus.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx, `
		INSERT INTO focus_sessions
		(id, user_id, subject_id, duration, completed, completed_at, xp_earned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, nullString(sess.SubjectID), sess.Duration,
		boolInt(sess.Completed), sess.CompletedAt.UTC().Format(time.RFC3339),
		sess.XPEarned, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert focus session: %w", err)
	}
	return nil
}

// List returns sessions newest first, optionally bounded below by since.
func (f *focusStore) List(ctx context.Context, userID string, since *time.Time, limit int) ([]focus.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	query := `
		SELECT id, user_id, subject_id, duration, completed, completed_at, xp_earned
		FROM focus_sessions WHERE user_id = ?`
	args := []any{userID}
	if since != nil {
		query += " AND completed_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	return f.querySessions(ctx, query, args...)
}

// ListCompletedRange returns completed sessions within [from, to] at day
// granularity.
func (f *focusStore) ListCompletedRange(ctx context.Context, userID string, from, to time.Time) ([]focus.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.querySessions(ctx, `
		SELECT id, user_id, subject_id, duration, completed, completed_at, xp_earned
		FROM focus_sessions
		WHERE user_id = ? AND completed = 1
		  AND DATE(completed_at) >= ? AND DATE(completed_at) <= ?
		ORDER BY completed_at ASC`,
		userID, from.Format(dayFormat), to.Format(dayFormat))
}

// FocusTotals returns a user's lifetime completed-session count and total
// minutes. Admin detail path.
func (s *Store) FocusTotals(ctx context.Context, userID string) (sessions, minutes int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration), 0)
		FROM focus_sessions WHERE user_id = ? AND completed = 1`,
		userID).Scan(&sessions, &minutes)
	return sessions, minutes, err
}

func (f *focusStore) querySessions(ctx context.Context, query string, args ...any) ([]focus.Session, error) {
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query focus sessions: %w", err)
	}
	defer rows.Close()

	var sessions []focus.Session
	for rows.Next() {
		var (
			sess        focus.Session
			subjectID   sql.NullString
			completed   int
			completedAt string
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &subjectID, &sess.Duration,
			&completed, &completedAt, &sess.XPEarned); err != nil {
			return nil, fmt.Errorf("failed to scan focus session: %w", err)
		}
		sess.SubjectID = subjectID.String
		sess.Completed = completed != 0
		sess.CompletedAt, _ = time.Parse(time.RFC3339, completedAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
