/*
chain.go - Approval chain protocol for leave requests

PURPOSE:
  Defines who decides a leave request and which status changes are legal.
  The chain is role-dependent: a Staff request is decided by the Head of
  Department, an HOD's own request escalates straight to the Principal.

CHAIN:
  [Staff-authored] -> PENDING           -(HOD decision)->       APPROVED | REJECTED
  [HOD-authored]   -> PENDING_PRINCIPAL -(Principal decision)-> APPROVED | REJECTED
  any non-terminal -> CANCELLED (withdrawn by author)

  Routing is a pure function of the author's role (NextApprover), not a type
  hierarchy. Transitions are a table, checked by CanTransition.

SEE ALSO:
  - status.go: LeaveStatus values
  - service.go: Applies the chain when approvers decide
*/
package workflow

// =============================================================================
// ROUTING
// =============================================================================

// NextApprover returns the role that decides leave authored by authorRole.
// A Principal has nobody above them in this chain.
func NextApprover(authorRole Role) (Role, bool) {
	switch authorRole {
	case RoleStaff:
		return RoleHOD, true
	case RoleHOD:
		return RolePrincipal, true
	}
	return "", false
}

// InitialStatus is the status a freshly submitted leave starts in.
func InitialStatus(authorRole Role) (LeaveStatus, error) {
	approver, ok := NextApprover(authorRole)
	if !ok {
		return "", newRuleError(ErrNoApprover, "no approver for leave authored by %s", authorRole)
	}
	switch approver {
	case RoleHOD:
		return LeavePending, nil
	default:
		return LeavePendingPrincipal, nil
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Actor distinguishes who drives a transition.
type Actor string

const (
	ActorHOD       Actor = "HOD"
	ActorPrincipal Actor = "PRINCIPAL"
	ActorAuthor    Actor = "AUTHOR"
)

type chainTransition struct {
	From  LeaveStatus
	To    LeaveStatus
	Actor Actor
}

var chainTransitions = []chainTransition{
	{From: LeavePending, To: LeaveApproved, Actor: ActorHOD},
	{From: LeavePending, To: LeaveRejected, Actor: ActorHOD},
	{From: LeavePendingPrincipal, To: LeaveApproved, Actor: ActorPrincipal},
	{From: LeavePendingPrincipal, To: LeaveRejected, Actor: ActorPrincipal},

	{From: LeavePending, To: LeaveCancelled, Actor: ActorAuthor},
	{From: LeavePendingPrincipal, To: LeaveCancelled, Actor: ActorAuthor},
}

// CanTransition reports whether actor may move a leave from one status to another.
func CanTransition(from, to LeaveStatus, actor Actor) bool {
	for _, t := range chainTransitions {
		if t.From == from && t.To == to && t.Actor == actor {
			return true
		}
	}
	return false
}

// ActorFor maps an approver role onto its chain actor.
func ActorFor(role Role) (Actor, bool) {
	switch role {
	case RoleHOD:
		return ActorHOD, true
	case RolePrincipal:
		return ActorPrincipal, true
	}
	return "", false
}

// CheckTransition is CanTransition returning a RuleError.
func CheckTransition(from, to LeaveStatus, actor Actor) error {
	if CanTransition(from, to, actor) {
		return nil
	}
	return newRuleError(ErrInvalidTransition, "%s cannot move leave from %s to %s", actor, from, to)
}
