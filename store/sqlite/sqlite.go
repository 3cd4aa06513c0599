/*
Package sqlite provides a SQLite-backed implementation of workflow.TxStore.

PURPOSE:
  Persists users, substitution requests, leave requests, balances and the
  credit ledger. The same SQL runs against the connection or inside a
  transaction, so the service's multi-step operations (approve + deduct
  balance + history entry, approve work + credit) are atomic.

INTERFACES IMPLEMENTED:
  workflow.Store:    Directory, substitutions, leaves, balances, credits
  workflow.TxStore:  WithTx
  workflow.Resetter: Demo scenario wipe

KEY TABLES:
  users:          Directory (role, department, gender)
  substitutions:  Handshake records, one PENDING per requester
  leave_requests: Leave with approval status
  balances:       Remaining days per metered leave type (decimal JSON)
  leave_actions:  Append-only decision history with approver comments
  work_records:   Night work and compensatory work awaiting the HOD
  credits:        Append-only ledger, UNIQUE idempotency_key

COMPARE-AND-SET:
  Status updates are "UPDATE ... WHERE id = ? AND status = ?". Zero rows
  affected means someone else moved the record first, reported as
  workflow.ErrConcurrentModification.

SCHEMA:
  Versioned goose migrations embedded from migrations/. Applied on New().

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, which
  also keeps ":memory:" databases shared across calls.

USAGE:
  store, err := sqlite.New("./data/leave.db", sqlite.WithLogger(logger))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := workflow.NewService(store, logger)

SEE ALSO:
  - workflow/store.go: Interface definitions
  - workflow/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements workflow.TxStore using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes migration output through logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// goose keeps its dialect, filesystem and logger in package globals.
var gooseMu sync.Mutex

func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{s.logger.Sugar().Named("goose")})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.s.Errorf(strings.TrimSpace(format), v...)
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.s.Infof(strings.TrimSpace(format), v...)
}

// =============================================================================
// LOCKED ENTRY POINTS (workflow.Store interface)
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u workflow.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveUser(ctx, u)
}

func (s *Store) GetUser(ctx context.Context, id string) (*workflow.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetUser(ctx, id)
}

func (s *Store) SearchUsers(ctx context.Context, q workflow.UserQuery) ([]workflow.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.SearchUsers(ctx, q)
}

func (s *Store) CreateSubstitution(ctx context.Context, sub workflow.Substitution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateSubstitution(ctx, sub)
}

func (s *Store) GetSubstitution(ctx context.Context, id string) (*workflow.Substitution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetSubstitution(ctx, id)
}

func (s *Store) ListSubstitutions(ctx context.Context, q workflow.SubstitutionQuery) ([]workflow.Substitution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListSubstitutions(ctx, q)
}

func (s *Store) SetSubstitutionStatus(ctx context.Context, id string, from, to workflow.SubstitutionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SetSubstitutionStatus(ctx, id, from, to, at)
}

func (s *Store) CreateLeave(ctx context.Context, l workflow.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateLeave(ctx, l)
}

func (s *Store) GetLeave(ctx context.Context, id string) (*workflow.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetLeave(ctx, id)
}

func (s *Store) ListLeaves(ctx context.Context, q workflow.LeaveQuery) ([]workflow.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListLeaves(ctx, q)
}

func (s *Store) SetLeaveStatus(ctx context.Context, id string, from, to workflow.LeaveStatus, decidedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SetLeaveStatus(ctx, id, from, to, decidedBy, at)
}

func (s *Store) GetBalance(ctx context.Context, userID string) (*workflow.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetBalance(ctx, userID)
}

func (s *Store) SaveBalance(ctx context.Context, b workflow.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveBalance(ctx, b)
}

func (s *Store) AppendLeaveAction(ctx context.Context, a workflow.LeaveAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendLeaveAction(ctx, a)
}

func (s *Store) ListLeaveActions(ctx context.Context, leaveID string) ([]workflow.LeaveAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListLeaveActions(ctx, leaveID)
}

func (s *Store) CreateWorkRecord(ctx context.Context, w workflow.WorkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateWorkRecord(ctx, w)
}

func (s *Store) GetWorkRecord(ctx context.Context, id string) (*workflow.WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetWorkRecord(ctx, id)
}

func (s *Store) ListWorkRecords(ctx context.Context, q workflow.WorkQuery) ([]workflow.WorkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListWorkRecords(ctx, q)
}

func (s *Store) SetWorkRecordStatus(ctx context.Context, id string, from, to workflow.WorkStatus, decidedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SetWorkRecordStatus(ctx, id, from, to, decidedBy, at)
}

func (s *Store) AppendCredit(ctx context.Context, c workflow.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.AppendCredit(ctx, c)
}

func (s *Store) CreditExists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.CreditExists(ctx, key)
}

func (s *Store) ListCredits(ctx context.Context, userID string) ([]workflow.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListCredits(ctx, userID)
}

// =============================================================================
// TRANSACTIONAL STORE (workflow.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store workflow.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"credits", "work_records", "leave_actions",
		"balances", "leave_requests", "substitutions", "users",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the connection and transactions
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// ----- users -----

const userColumns = "id, username, email, name, role, department, gender, created_at"

func (q queries) SaveUser(ctx context.Context, u workflow.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			department = excluded.department,
			gender = excluded.gender
	`
	_, err := q.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.Name, string(u.Role), u.Department, string(u.Gender),
		formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (q queries) GetUser(ctx context.Context, id string) (*workflow.User, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (q queries) SearchUsers(ctx context.Context, uq workflow.UserQuery) ([]workflow.User, error) {
	var where []string
	var args []any
	if text := strings.ToLower(strings.TrimSpace(uq.Text)); text != "" {
		pattern := likePattern(text)
		where = append(where, `(LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if uq.Department != "" {
		where = append(where, "department = ?")
		args = append(args, uq.Department)
	}
	if uq.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(uq.Role))
	}
	if uq.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, uq.ExcludeID)
	}

	query := "SELECT " + userColumns + " FROM users" + whereClause(where) + " ORDER BY username"
	if uq.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, uq.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []workflow.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ----- substitutions -----

const substitutionColumns = `id, requested_by, requested_to, requested_by_username, requested_to_username,
	date, period, time, class_label, message, status, created_at, updated_at`

func (q queries) CreateSubstitution(ctx context.Context, s workflow.Substitution) error {
	query := `
		INSERT INTO substitutions (` + substitutionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		s.ID, s.RequestedBy, s.RequestedTo, s.RequestedByName, s.RequestedToName,
		s.Details.Date, s.Details.Period, s.Details.Time, s.Details.ClassLabel, s.Details.Message,
		string(s.Status), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "substitutions.requested_by") {
				return workflow.ErrDuplicatePending
			}
			return workflow.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create substitution: %w", err)
	}
	return nil
}

func (q queries) GetSubstitution(ctx context.Context, id string) (*workflow.Substitution, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+substitutionColumns+" FROM substitutions WHERE id = ?", id)
	s, err := scanSubstitution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q queries) ListSubstitutions(ctx context.Context, sq workflow.SubstitutionQuery) ([]workflow.Substitution, error) {
	var where []string
	var args []any
	if sq.RequestedBy != "" {
		where = append(where, "requested_by = ?")
		args = append(args, sq.RequestedBy)
	}
	if sq.RequestedTo != "" {
		where = append(where, "requested_to = ?")
		args = append(args, sq.RequestedTo)
	}
	if len(sq.Statuses) > 0 {
		statuses := make([]string, len(sq.Statuses))
		for i, st := range sq.Statuses {
			statuses[i] = string(st)
		}
		where, args = appendIn(where, args, "status", statuses)
	}
	if sq.DateBefore != "" {
		where = append(where, "date < ?")
		args = append(args, sq.DateBefore)
	}

	query := "SELECT " + substitutionColumns + " FROM substitutions" + whereClause(where) +
		" ORDER BY created_at DESC, rowid DESC"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list substitutions: %w", err)
	}
	defer rows.Close()

	var subs []workflow.Substitution
	for rows.Next() {
		s, err := scanSubstitution(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (q queries) SetSubstitutionStatus(ctx context.Context, id string, from, to workflow.SubstitutionStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE substitutions SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), formatTime(at), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update substitution: %w", err)
	}
	return q.checkCAS(ctx, res, "substitutions", id)
}

// ----- leave requests -----

const leaveColumns = `id, user_id, author_role, department, leave_type, start_date, end_date, reason,
	is_hourly, hours, substitution_id, status, decided_by, decided_at, created_at, updated_at`

func (q queries) CreateLeave(ctx context.Context, l workflow.LeaveRequest) error {
	query := `
		INSERT INTO leave_requests (` + leaveColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var decidedAt sql.NullString
	if l.DecidedAt != nil {
		decidedAt = sql.NullString{String: formatTime(*l.DecidedAt), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, query,
		l.ID, l.UserID, string(l.AuthorRole), l.Department, string(l.LeaveType),
		formatTime(l.StartDate), formatTime(l.EndDate), l.Reason,
		l.IsHourly, l.Hours, nullString(l.SubstitutionID), string(l.Status),
		l.DecidedBy, decidedAt, formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return workflow.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create leave request: %w", err)
	}
	return nil
}

func (q queries) GetLeave(ctx context.Context, id string) (*workflow.LeaveRequest, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+leaveColumns+" FROM leave_requests WHERE id = ?", id)
	l, err := scanLeave(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (q queries) ListLeaves(ctx context.Context, lq workflow.LeaveQuery) ([]workflow.LeaveRequest, error) {
	var where []string
	var args []any
	if lq.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, lq.UserID)
	}
	if lq.Department != "" {
		where = append(where, "department = ?")
		args = append(args, lq.Department)
	}
	if lq.AuthorRole != "" {
		where = append(where, "author_role = ?")
		args = append(args, string(lq.AuthorRole))
	}
	if len(lq.Types) > 0 {
		types := make([]string, len(lq.Types))
		for i, t := range lq.Types {
			types[i] = string(t)
		}
		where, args = appendIn(where, args, "leave_type", types)
	}
	if len(lq.Statuses) > 0 {
		statuses := make([]string, len(lq.Statuses))
		for i, st := range lq.Statuses {
			statuses[i] = string(st)
		}
		where, args = appendIn(where, args, "status", statuses)
	}
	if !lq.CreatedSince.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(lq.CreatedSince))
	}
	if !lq.StartFrom.IsZero() {
		where = append(where, "start_date >= ?")
		args = append(args, formatTime(lq.StartFrom))
	}
	if !lq.StartBefore.IsZero() {
		where = append(where, "start_date < ?")
		args = append(args, formatTime(lq.StartBefore))
	}

	query := "SELECT " + leaveColumns + " FROM leave_requests" + whereClause(where) +
		" ORDER BY created_at DESC, rowid DESC"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave requests: %w", err)
	}
	defer rows.Close()

	var leaves []workflow.LeaveRequest
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, l)
	}
	return leaves, rows.Err()
}

func (q queries) SetLeaveStatus(ctx context.Context, id string, from, to workflow.LeaveStatus, decidedBy string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), decidedBy, formatTime(at), formatTime(at), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	return q.checkCAS(ctx, res, "leave_requests", id)
}

// ----- balances -----

func (q queries) GetBalance(ctx context.Context, userID string) (*workflow.Balance, error) {
	var daysJSON, updatedAt string
	err := q.db.QueryRowContext(ctx,
		"SELECT days_json, updated_at FROM balances WHERE user_id = ?", userID,
	).Scan(&daysJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b := workflow.Balance{UserID: userID, Days: map[workflow.LeaveType]decimal.Decimal{}}
	if err := json.Unmarshal([]byte(daysJSON), &b.Days); err != nil {
		return nil, fmt.Errorf("failed to decode balance for %s: %w", userID, err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (q queries) SaveBalance(ctx context.Context, b workflow.Balance) error {
	daysJSON, err := json.Marshal(b.Days)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO balances (user_id, days_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			days_json = excluded.days_json,
			updated_at = excluded.updated_at`,
		b.UserID, string(daysJSON), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// ----- leave actions -----

const actionColumns = "id, leave_id, actor_id, actor_role, action, from_status, to_status, comment, at"

func (q queries) AppendLeaveAction(ctx context.Context, a workflow.LeaveAction) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO leave_actions ("+actionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.LeaveID, a.ActorID, string(a.ActorRole), string(a.Action),
		string(a.From), string(a.To), a.Comment, formatTime(a.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append leave action: %w", err)
	}
	return nil
}

func (q queries) ListLeaveActions(ctx context.Context, leaveID string) ([]workflow.LeaveAction, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+actionColumns+" FROM leave_actions WHERE leave_id = ? ORDER BY at, rowid", leaveID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave actions: %w", err)
	}
	defer rows.Close()

	var actions []workflow.LeaveAction
	for rows.Next() {
		var a workflow.LeaveAction
		var role, action, from, to, at string
		if err := rows.Scan(&a.ID, &a.LeaveID, &a.ActorID, &role, &action, &from, &to, &a.Comment, &at); err != nil {
			return nil, err
		}
		a.ActorRole = workflow.Role(role)
		a.Action = workflow.LeaveActionKind(action)
		a.From = workflow.LeaveStatus(from)
		a.To = workflow.LeaveStatus(to)
		a.At = parseTime(at)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ----- work records -----

const workColumns = "id, user_id, department, kind, date, hours, reason, status, decided_by, decided_at, created_at"

func (q queries) CreateWorkRecord(ctx context.Context, w workflow.WorkRecord) error {
	var decidedAt sql.NullString
	if w.DecidedAt != nil {
		decidedAt = sql.NullString{String: formatTime(*w.DecidedAt), Valid: true}
	}
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO work_records ("+workColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		w.ID, w.UserID, w.Department, string(w.Kind), w.Date, w.Hours, w.Reason,
		string(w.Status), w.DecidedBy, decidedAt, formatTime(w.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return workflow.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create work record: %w", err)
	}
	return nil
}

func (q queries) GetWorkRecord(ctx context.Context, id string) (*workflow.WorkRecord, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+workColumns+" FROM work_records WHERE id = ?", id)
	w, err := scanWork(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (q queries) ListWorkRecords(ctx context.Context, wq workflow.WorkQuery) ([]workflow.WorkRecord, error) {
	var where []string
	var args []any
	if wq.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, wq.UserID)
	}
	if wq.Department != "" {
		where = append(where, "department = ?")
		args = append(args, wq.Department)
	}
	if len(wq.Kinds) > 0 {
		kinds := make([]string, len(wq.Kinds))
		for i, k := range wq.Kinds {
			kinds[i] = string(k)
		}
		where, args = appendIn(where, args, "kind", kinds)
	}
	if len(wq.Statuses) > 0 {
		statuses := make([]string, len(wq.Statuses))
		for i, st := range wq.Statuses {
			statuses[i] = string(st)
		}
		where, args = appendIn(where, args, "status", statuses)
	}

	query := "SELECT " + workColumns + " FROM work_records" + whereClause(where) +
		" ORDER BY created_at DESC, rowid DESC"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work records: %w", err)
	}
	defer rows.Close()

	var recs []workflow.WorkRecord
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, w)
	}
	return recs, rows.Err()
}

func (q queries) SetWorkRecordStatus(ctx context.Context, id string, from, to workflow.WorkStatus, decidedBy string, at time.Time) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE work_records SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = ?",
		string(to), decidedBy, formatTime(at), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update work record: %w", err)
	}
	return q.checkCAS(ctx, res, "work_records", id)
}

// ----- credits -----

const creditColumns = "id, user_id, leave_type, days, source, reference, idempotency_key, effective_at, created_at"

func (q queries) AppendCredit(ctx context.Context, c workflow.Credit) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO credits ("+creditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.UserID, string(c.LeaveType), c.Days.String(), string(c.Source), c.Reference,
		nullString(c.IdempotencyKey), formatTime(c.EffectiveAt), formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "credits.idempotency_key") {
			return workflow.ErrDuplicateCredit
		}
		if isUniqueConstraintError(err) {
			return workflow.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append credit: %w", err)
	}
	return nil
}

func (q queries) CreditExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM credits WHERE idempotency_key = ?", key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check credit: %w", err)
	}
	return n > 0, nil
}

func (q queries) ListCredits(ctx context.Context, userID string) ([]workflow.Credit, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+creditColumns+" FROM credits WHERE user_id = ? ORDER BY effective_at, rowid", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	var credits []workflow.Credit
	for rows.Next() {
		var c workflow.Credit
		var leaveType, days, source, effectiveAt, createdAt string
		var key sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &leaveType, &days, &source, &c.Reference, &key, &effectiveAt, &createdAt); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(days)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credit %s: %w", c.ID, err)
		}
		c.LeaveType = workflow.LeaveType(leaveType)
		c.Days = d
		c.Source = workflow.CreditSource(source)
		c.IdempotencyKey = key.String
		c.EffectiveAt = parseTime(effectiveAt)
		c.CreatedAt = parseTime(createdAt)
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// checkCAS turns "zero rows updated" into NotFound or ConcurrentModification.
func (q queries) checkCAS(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return workflow.ErrNotFound
	}
	return workflow.ErrConcurrentModification
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (workflow.User, error) {
	var u workflow.User
	var role, gender, createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &role, &u.Department, &gender, &createdAt)
	if err != nil {
		return u, err
	}
	u.Role = workflow.Role(role)
	u.Gender = workflow.Gender(gender)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func scanSubstitution(row scanner) (workflow.Substitution, error) {
	var s workflow.Substitution
	var status, createdAt, updatedAt string
	err := row.Scan(
		&s.ID, &s.RequestedBy, &s.RequestedTo, &s.RequestedByName, &s.RequestedToName,
		&s.Details.Date, &s.Details.Period, &s.Details.Time, &s.Details.ClassLabel, &s.Details.Message,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		return s, err
	}
	s.Status = workflow.SubstitutionStatus(status)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func scanLeave(row scanner) (workflow.LeaveRequest, error) {
	var l workflow.LeaveRequest
	var authorRole, leaveType, start, end, status, createdAt, updatedAt string
	var substitutionID, decidedAt sql.NullString
	err := row.Scan(
		&l.ID, &l.UserID, &authorRole, &l.Department, &leaveType, &start, &end, &l.Reason,
		&l.IsHourly, &l.Hours, &substitutionID, &status, &l.DecidedBy, &decidedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return l, err
	}
	l.AuthorRole = workflow.Role(authorRole)
	l.LeaveType = workflow.LeaveType(leaveType)
	l.StartDate = parseTime(start)
	l.EndDate = parseTime(end)
	l.SubstitutionID = substitutionID.String
	l.Status = workflow.LeaveStatus(status)
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		l.DecidedAt = &t
	}
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}

func scanWork(row scanner) (workflow.WorkRecord, error) {
	var w workflow.WorkRecord
	var kind, status, createdAt string
	var decidedAt sql.NullString
	err := row.Scan(
		&w.ID, &w.UserID, &w.Department, &kind, &w.Date, &w.Hours, &w.Reason,
		&status, &w.DecidedBy, &decidedAt, &createdAt,
	)
	if err != nil {
		return w, err
	}
	w.Kind = workflow.WorkKind(kind)
	w.Status = workflow.WorkStatus(status)
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		w.DecidedAt = &t
	}
	w.CreatedAt = parseTime(createdAt)
	return w, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func appendIn(where []string, args []any, column string, values []string) ([]string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	where = append(where, column+" IN ("+placeholders+")")
	for _, v := range values {
		args = append(args, v)
	}
	return where, args
}

func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}

// isUniqueConstraintError checks if error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
