/*
store.go - Persistence interface for users, substitutions, leaves and credits

PURPOSE:
  Defines the interface between the server-side rules (service.go) and the
  database. Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:    Directory, substitution and leave persistence
  TxStore:  Store plus atomic multi-step operations (approve + deduct balance)
  Resetter: Optional wipe for demo scenarios

COMPARE-AND-SET:
  Status fields are never overwritten blindly. SetSubstitutionStatus,
  SetLeaveStatus and SetWorkRecordStatus take the expected current status and fail with
  ErrConcurrentModification if another writer got there first. This is how
  "first terminal decision wins" is enforced when two people act at once.

APPEND-ONLY:
  Leave actions and credits are never updated or deleted.

MISSING ROWS:
  Get* methods return (nil, nil) when the row doesn't exist.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, goose-managed schema
  - workflow/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Only consumer of this interface
*/
package workflow

import (
	"context"
	"time"
)

// =============================================================================
// QUERIES
// =============================================================================

// UserQuery filters the directory. Text matches username or email,
// case-insensitively. Zero-valued fields don't filter.
type UserQuery struct {
	Text       string
	Department string
	Role       Role
	ExcludeID  string
	Limit      int
}

// SubstitutionQuery filters substitution requests. Results are newest first.
type SubstitutionQuery struct {
	RequestedBy string
	RequestedTo string
	Statuses    []SubstitutionStatus
	DateBefore  string // YYYY-MM-DD, exclusive
}

// LeaveQuery filters leave requests. Results are newest first.
type LeaveQuery struct {
	UserID       string
	Department   string
	AuthorRole   Role
	Types        []LeaveType
	Statuses     []LeaveStatus
	CreatedSince time.Time
	StartFrom    time.Time // inclusive
	StartBefore  time.Time // exclusive
}

// WorkQuery filters work records. Results are newest first.
type WorkQuery struct {
	UserID     string
	Department string
	Kinds      []WorkKind
	Statuses   []WorkStatus
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of the workflow records.
type Store interface {
	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	SearchUsers(ctx context.Context, q UserQuery) ([]User, error)

	CreateSubstitution(ctx context.Context, s Substitution) error
	GetSubstitution(ctx context.Context, id string) (*Substitution, error)
	ListSubstitutions(ctx context.Context, q SubstitutionQuery) ([]Substitution, error)

	// SetSubstitutionStatus moves a substitution from -> to.
	SetSubstitutionStatus(ctx context.Context, id string, from, to SubstitutionStatus, at time.Time) error

	CreateLeave(ctx context.Context, l LeaveRequest) error
	GetLeave(ctx context.Context, id string) (*LeaveRequest, error)
	ListLeaves(ctx context.Context, q LeaveQuery) ([]LeaveRequest, error)

	// SetLeaveStatus moves a leave from -> to and records who decided.
	SetLeaveStatus(ctx context.Context, id string, from, to LeaveStatus, decidedBy string, at time.Time) error

	GetBalance(ctx context.Context, userID string) (*Balance, error)
	SaveBalance(ctx context.Context, b Balance) error

	// AppendLeaveAction adds to a leave's history; ListLeaveActions is oldest first.
	AppendLeaveAction(ctx context.Context, a LeaveAction) error
	ListLeaveActions(ctx context.Context, leaveID string) ([]LeaveAction, error)

	CreateWorkRecord(ctx context.Context, w WorkRecord) error
	GetWorkRecord(ctx context.Context, id string) (*WorkRecord, error)
	ListWorkRecords(ctx context.Context, q WorkQuery) ([]WorkRecord, error)

	// SetWorkRecordStatus moves a work record from -> to and records who decided.
	SetWorkRecordStatus(ctx context.Context, id string, from, to WorkStatus, decidedBy string, at time.Time) error

	// AppendCredit adds a ledger entry. A repeated idempotency key fails
	// with ErrDuplicateCredit. ListCredits is oldest first.
	AppendCredit(ctx context.Context, c Credit) error
	CreditExists(ctx context.Context, idempotencyKey string) (bool, error)
	ListCredits(ctx context.Context, userID string) ([]Credit, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter clears all data. Only for demo/dev environments.
type Resetter interface {
	Reset(ctx context.Context) error
}
