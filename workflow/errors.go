/*
errors.go - Centralized error types for the leave authorization workflow

PURPOSE:
  All error types in one place for consistency and discoverability. The
  client engine, the HTTP layer and the server-side service all classify
  failures with the same four classes.

ERROR CLASSES:
  1. ValidationError       - Malformed local input. Never reaches the network.
  2. PreconditionError     - An operation invoked out of order.
  3. RemoteRejection       - The server declined a state-changing call.
  4. TransientNetworkError - Fetch/poll failure. Retried, never blocking.

  Server-side business rule failures are RuleError values wrapping one of
  the sentinels below. When they cross the wire they come back to the
  client as RemoteRejection with the same Code.

USAGE:
  if workflow.IsRejection(err) {
      // business outcome, surface reason
  }
  if errors.Is(err, workflow.ErrDuplicatePending) { ... }

SEE ALSO:
  - service.go: Produces RuleError
  - api/handlers.go: Maps errors to HTTP status codes
  - client/client.go: Maps HTTP status codes back to errors
*/
package workflow

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced user, substitution or leave doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicatePending is returned when a requester already has a pending
	// substitution request. At most one negotiation is in flight per requester.
	ErrDuplicatePending = errors.New("already has a pending substitution request")

	// ErrNotPending is returned when responding to an already decided substitution.
	ErrNotPending = errors.New("substitution request is not pending")

	// ErrSubstitutionRequired is returned when a leave needs an accepted substitution.
	ErrSubstitutionRequired = errors.New("an accepted substitution is required")

	// ErrQuotaExceeded is returned when a leave type's usage limit is reached.
	ErrQuotaExceeded = errors.New("leave quota exceeded")

	// ErrDuplicateCredit is returned when a credit's idempotency key is
	// already in the ledger.
	ErrDuplicateCredit = errors.New("credit already applied")

	// ErrInsufficientBalance is returned when a leave balance can't cover the duration.
	ErrInsufficientBalance = errors.New("insufficient leave balance")

	// ErrNoApprover is returned when the author's role has no next approver.
	ErrNoApprover = errors.New("no approver for role")

	// ErrInvalidTransition is returned when the approval chain forbids a status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrentModification is returned when a compare-and-set lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

// PreconditionError reports an operation invoked in the wrong state.
type PreconditionError struct {
	Op     string
	State  string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s not allowed in state %s: %s", e.Op, e.State, e.Reason)
}

// RemoteRejection reports that the remote system declined a call.
// Reason is the server-supplied text, Code a stable machine-readable tag.
type RemoteRejection struct {
	Op     string
	Code   string
	Reason string
	Status int
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// Unwrap maps well-known codes back onto sentinels so that errors.Is works
// on both sides of the wire.
func (e *RemoteRejection) Unwrap() error {
	return sentinelForCode(e.Code)
}

// TransientNetworkError reports a failed remote call that may succeed later.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RuleError is a server-side business rule violation.
type RuleError struct {
	Code   string
	Reason string
	Err    error
}

func (e *RuleError) Error() string { return e.Reason }

func (e *RuleError) Unwrap() error { return e.Err }

func newRuleError(sentinel error, format string, args ...any) *RuleError {
	return &RuleError{
		Code:   CodeFor(sentinel),
		Reason: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}

// =============================================================================
// CODES - Stable tags shared with the HTTP layer
// =============================================================================

const (
	CodeValidation          = "validation"
	CodeNotFound            = "not_found"
	CodeForbidden           = "forbidden"
	CodeDuplicatePending    = "duplicate_pending"
	CodeNotPending          = "not_pending"
	CodeSubstitutionNeeded  = "substitution_required"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeInsufficientBalance = "insufficient_balance"
	CodeNoApprover          = "no_approver"
	CodeInvalidTransition   = "invalid_transition"
	CodeConflict            = "conflict"
)

var codes = []struct {
	code     string
	sentinel error
}{
	{CodeNotFound, ErrNotFound},
	{CodeForbidden, ErrForbidden},
	{CodeDuplicatePending, ErrDuplicatePending},
	{CodeNotPending, ErrNotPending},
	{CodeSubstitutionNeeded, ErrSubstitutionRequired},
	{CodeQuotaExceeded, ErrQuotaExceeded},
	{CodeInsufficientBalance, ErrInsufficientBalance},
	{CodeNoApprover, ErrNoApprover},
	{CodeInvalidTransition, ErrInvalidTransition},
	{CodeConflict, ErrConcurrentModification},
	{CodeConflict, ErrDuplicateCredit},
}

// CodeFor returns the stable code for an error, or "" if it has none.
func CodeFor(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeValidation
	}
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return ""
}

func sentinelForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.sentinel
		}
	}
	return nil
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for malformed local input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPrecondition returns true when an operation was invoked out of order.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsRejection returns true when the remote system declined the call.
func IsRejection(err error) bool {
	var re *RemoteRejection
	return errors.As(err, &re)
}

// IsTransient returns true if the error might succeed on retry.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// RejectionReason extracts the server-supplied reason, or the error text.
func RejectionReason(err error) string {
	var re *RemoteRejection
	if errors.As(err, &re) {
		return re.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
