/*
Package handshake is the client-side engine of the leave workflow.

PURPOSE:
  Drives one substitution negotiation for one signed-in user, keeps it in
  sync with the remote system by polling, and gates leave submission on its
  outcome.

COMPONENTS:
  Machine     Handshake state machine (search -> select -> send -> await)
  Reconciler  Timed loop folding server status into the Machine
  Gate        Permits leave submission once the handshake is accepted
  Engine      Wires the three together and classifies state on startup
  LeaveTracker Follows submitted leaves until they are terminal

STATE DIAGRAM:
  PENDING -> SEARCHING -> SELECTED -> REQUESTED -> ACCEPTED   (terminal)
                             |              \---> REJECTED   (recoverable)
                             \----(sync rejection)--^
  REJECTED -> SEARCHING      (start over)
  any      -> PENDING        (Reset)

  The Reconciler is the only writer of REQUESTED -> ACCEPTED | REJECTED.
  User operations are rejected while REQUESTED.

CONCURRENCY:
  All methods are safe for concurrent use. Remote calls are made without
  holding the lock; results are applied only if the tracked request id (and
  the reset generation) still match when they arrive.

SEE ALSO:
  - workflow/status.go: Server-side status enumerations
  - client/client.go: HTTP implementation of Remote
*/
package handshake

import "time"

// =============================================================================
// STATES
// =============================================================================

// State is the local, derived state of one negotiation.
type State string

const (
	StateIdle      State = "PENDING" // nothing in progress
	StateSearching State = "SEARCHING"
	StateSelected  State = "SELECTED"
	StateRequested State = "REQUESTED"
	StateAccepted  State = "ACCEPTED"
	StateRejected  State = "REJECTED"
)

// IsTerminal is true for ACCEPTED and REJECTED.
func (s State) IsTerminal() bool {
	return s == StateAccepted || s == StateRejected
}

// Cause records what drove a transition.
type Cause string

const (
	CauseUser      Cause = "user"
	CauseReconcile Cause = "reconcile"
	CauseStartup   Cause = "startup"
	CauseReset     Cause = "reset"
)

// =============================================================================
// TRANSITIONS
// =============================================================================

type edge struct {
	From  State
	To    State
	Cause Cause
}

var edges = []edge{
	{From: StateIdle, To: StateSearching, Cause: CauseUser},
	{From: StateRejected, To: StateSearching, Cause: CauseUser},
	{From: StateSearching, To: StateSelected, Cause: CauseUser},
	{From: StateSelected, To: StateRequested, Cause: CauseUser},
	{From: StateSelected, To: StateRejected, Cause: CauseUser},

	{From: StateRequested, To: StateAccepted, Cause: CauseReconcile},
	{From: StateRequested, To: StateRejected, Cause: CauseReconcile},

	// Startup classification restores existing remote state once.
	{From: StateIdle, To: StateRequested, Cause: CauseStartup},
	{From: StateIdle, To: StateAccepted, Cause: CauseStartup},
	{From: StateIdle, To: StateRejected, Cause: CauseStartup},
}

// Allowed reports whether cause may move the machine from one state to
// another. Reset may always return to StateIdle.
func Allowed(from, to State, cause Cause) bool {
	if cause == CauseReset {
		return to == StateIdle
	}
	for _, e := range edges {
		if e.From == from && e.To == to && e.Cause == cause {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From  State
	To    State
	Cause Cause
	At    time.Time
}
