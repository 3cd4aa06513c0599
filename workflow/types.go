/*
Package workflow provides the shared vocabulary of the leave authorization system.

PURPOSE:
  Everything that both sides of the wire agree on lives here: the people
  involved, the substitution handshake record, the leave request, their status
  enumerations, the approval chain, and the error taxonomy. The client engine
  (handshake/), the HTTP layer (api/, client/) and the persistence layer
  (store/) all speak in these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - User / Session: who is acting, with which role and department
  - Substitution: a peer's agreement to cover a session while the requester is away
  - LeaveRequest: the leave itself, optionally tied to an accepted substitution
  - SubstitutionDetails / LeaveFields: caller-supplied payloads

DESIGN PRINCIPLES:
  1. The remote system is the source of truth for every Status field
  2. Descriptive payload of a substitution is immutable once sent
  3. Session context is passed explicitly, never read from ambient state

SEE ALSO:
  - status.go: Status enumerations and ordering
  - chain.go: Approval chain protocol
  - service.go: Server-side rules applied to these types
*/
package workflow

import (
	"strings"
	"time"
)

// =============================================================================
// PEOPLE
// =============================================================================

type Role string

const (
	RoleStaff     Role = "STAFF"
	RoleHOD       Role = "HOD"
	RolePrincipal Role = "PRINCIPAL"
)

// ParseRole accepts any letter case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleStaff, RoleHOD, RolePrincipal:
		return r, nil
	}
	return "", &ValidationError{Field: "role", Message: "unknown role " + s}
}

// RequiresSubstitution reports whether leave authored by this role must be
// gated on an accepted substitution handshake.
func (r Role) RequiresSubstitution() bool {
	return r == RoleStaff
}

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "O"
)

// User is a member of staff as known to the directory.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	Gender     Gender    `json:"gender,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// DisplayName prefers the full name over the username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Session is the authenticated identity the engine acts for. It is provided
// by an external collaborator; the core only reads these three fields.
type Session struct {
	UserID     string `json:"id"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
}

// Validate checks that the session carries an identity and a known role.
func (s Session) Validate() error {
	if s.UserID == "" {
		return &ValidationError{Field: "session.id", Message: "required"}
	}
	if _, err := ParseRole(string(s.Role)); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// SUBSTITUTION - The handshake record
// =============================================================================

// SubstitutionDetails is the descriptive payload of a substitution request.
type SubstitutionDetails struct {
	Date       string `json:"date"`   // YYYY-MM-DD
	Period     string `json:"period"` // e.g. "Period 2", "Morning Session"
	Time       string `json:"time"`   // HH:MM
	ClassLabel string `json:"class_label,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Validate enforces the required fields. It never touches the network.
func (d SubstitutionDetails) Validate() error {
	if strings.TrimSpace(d.Date) == "" {
		return &ValidationError{Field: "date", Message: "required"}
	}
	if strings.TrimSpace(d.Period) == "" {
		return &ValidationError{Field: "period", Message: "required"}
	}
	if strings.TrimSpace(d.Time) == "" {
		return &ValidationError{Field: "time", Message: "required"}
	}
	return nil
}

// Substitution is one negotiation between a requester and a candidate substitute.
type Substitution struct {
	ID              string              `json:"id"`
	RequestedBy     string              `json:"requested_by"`
	RequestedTo     string              `json:"requested_to"`
	RequestedByName string              `json:"requested_by_username,omitempty"`
	RequestedToName string              `json:"requested_to_username,omitempty"`
	Details         SubstitutionDetails `json:"details"`
	Status          SubstitutionStatus  `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// IsPending is true while the substitute has not answered.
func (s Substitution) IsPending() bool { return s.Status == SubstitutionPending }

// Decision is a substitute's answer to a substitution request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision accepts "accept"/"reject" in any case.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DecisionAccept, DecisionReject:
		return d, nil
	}
	return "", &ValidationError{Field: "decision", Message: "must be accept or reject"}
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

// LeaveFields is the caller-supplied part of a leave request.
type LeaveFields struct {
	LeaveType LeaveType `json:"leave_type"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason"`
	IsHourly  bool      `json:"is_hourly"`
	Hours     int       `json:"hours,omitempty"`
}

// LeaveRequest is a submitted leave with its approval status.
type LeaveRequest struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	AuthorRole     Role        `json:"author_role"`
	Department     string      `json:"department,omitempty"`
	LeaveFields
	SubstitutionID string      `json:"substitution_id,omitempty"`
	Status         LeaveStatus `json:"status"`
	DecidedBy      string      `json:"decided_by,omitempty"`
	DecidedAt      *time.Time  `json:"decided_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
