package workflow

import (
	"fmt"
	"strings"
)

// =============================================================================
// SUBSTITUTION STATUS
// =============================================================================

type SubstitutionStatus string

const (
	SubstitutionPending  SubstitutionStatus = "PENDING"
	SubstitutionAccepted SubstitutionStatus = "ACCEPTED"
	SubstitutionRejected SubstitutionStatus = "REJECTED"
)

// ParseSubstitutionStatus rejects anything outside the closed enumeration.
func ParseSubstitutionStatus(s string) (SubstitutionStatus, error) {
	st := SubstitutionStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case SubstitutionPending, SubstitutionAccepted, SubstitutionRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown substitution status %q", s)
}

// rank orders substitution statuses: PENDING < {ACCEPTED, REJECTED}.
// The two terminal statuses are incomparable and share a rank.
func (s SubstitutionStatus) rank() int {
	switch s {
	case SubstitutionPending:
		return 0
	case SubstitutionAccepted, SubstitutionRejected:
		return 1
	}
	return -1
}

// Advances reports whether moving from s to next goes forward in the
// "more advanced than" order. Equal statuses, regressions and moves between
// the two terminal statuses all return false, which lets callers drop
// out-of-order updates.
func (s SubstitutionStatus) Advances(next SubstitutionStatus) bool {
	return next.rank() > s.rank() && s.rank() >= 0
}

// IsTerminal is true for ACCEPTED and REJECTED.
func (s SubstitutionStatus) IsTerminal() bool {
	return s == SubstitutionAccepted || s == SubstitutionRejected
}

// =============================================================================
// LEAVE STATUS
// =============================================================================

type LeaveStatus string

const (
	LeavePending          LeaveStatus = "PENDING"
	LeavePendingPrincipal LeaveStatus = "PENDING_PRINCIPAL"
	LeaveApproved         LeaveStatus = "APPROVED"
	LeaveRejected         LeaveStatus = "REJECTED"
	LeaveCancelled        LeaveStatus = "CANCELLED"
)

// ParseLeaveStatus rejects anything outside the closed enumeration.
// PENDING and PENDING_PRINCIPAL are never folded together.
func ParseLeaveStatus(s string) (LeaveStatus, error) {
	st := LeaveStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case LeavePending, LeavePendingPrincipal, LeaveApproved, LeaveRejected, LeaveCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown leave status %q", s)
}

// IsTerminal is true once no further change is expected without a new request.
func (s LeaveStatus) IsTerminal() bool {
	switch s {
	case LeaveApproved, LeaveRejected, LeaveCancelled:
		return true
	}
	return false
}

// AwaitingRole returns the approver role whose queue holds a leave in this
// status, or false if the status is terminal.
func (s LeaveStatus) AwaitingRole() (Role, bool) {
	switch s {
	case LeavePending:
		return RoleHOD, true
	case LeavePendingPrincipal:
		return RolePrincipal, true
	}
	return "", false
}

// Label is the human-readable form used in notifications and the CLI.
func (s LeaveStatus) Label() string {
	switch s {
	case LeavePending:
		return "Pending HOD approval"
	case LeavePendingPrincipal:
		return "Pending Principal approval"
	case LeaveApproved:
		return "Approved"
	case LeaveRejected:
		return "Rejected"
	case LeaveCancelled:
		return "Cancelled"
	}
	return string(s)
}
