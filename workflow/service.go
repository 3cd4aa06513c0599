/*
service.go - Server-side rules for substitutions and leave requests

PURPOSE:
  The "remote system" every client engine talks to. It owns the
  authoritative status of every substitution and leave, and enforces the
  business rules the client can only anticipate:

  SUBSTITUTION:
    Search     Directory lookup scoped to the requester's department
    Create     One pending negotiation per requester, peer must be Staff
    Respond    Only the addressee may answer, only while pending
    Expire     Pending requests for past sessions are rejected

  LEAVE:
    Submit     Staff need an accepted substitution; routing by author role
    Decide     HOD / Principal decisions through the chain table
    Cancel     Author withdraws a non-terminal leave
    History    Every decision and cancellation, with the approver's comment

  CREDITS (ledger.go, accrual.go, work.go):
    Accrue     Monthly earned leave for every month worked
    Work       Night work and compensatory work, decided by the HOD

REQUEST FLOW:
  ┌────────────┐  create   ┌─────────┐  accept   ┌──────────┐  submit  ┌───────┐
  │ requester  │ ───────▶  │ PENDING │ ───────▶  │ ACCEPTED │ ──────▶  │ LEAVE │
  └────────────┘           └─────────┘           └──────────┘          └───────┘
                                │ reject / expire
                                ▼
                           ┌──────────┐
                           │ REJECTED │
                           └──────────┘

TRANSACTIONS:
  Decide runs inside TxStore.WithTx: the balance check, the status change,
  the balance deduction and the history entry are all-or-nothing.

SEE ALSO:
  - chain.go: Approval chain
  - store.go: Persistence interface
  - api/handlers.go: HTTP exposure
*/
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SearchLimit caps the candidate list returned by SearchCandidates.
const SearchLimit = 10

// Service applies the workflow rules on top of a TxStore.
type Service struct {
	Store  TxStore
	Logger *zap.Logger

	// EarnedAccrual drives AccrueEarned.
	EarnedAccrual AccrualSchedule

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewService creates a service with wall-clock time and UUID ids.
func NewService(store TxStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:         store,
		Logger:        logger,
		EarnedAccrual: DefaultEarnedAccrual(),
		Now:           func() time.Time { return time.Now().UTC() },
		NewID:         func() string { return uuid.NewString() },
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SearchCandidates finds Staff in the actor's department whose username or
// email contains query. The actor is never included. An empty result is not
// an error.
func (s *Service) SearchCandidates(ctx context.Context, actor Session, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "q", Message: "query required"}
	}
	users, err := s.Store.SearchUsers(ctx, UserQuery{
		Text:       query,
		Department: actor.Department,
		Role:       RoleStaff,
		ExcludeID:  actor.UserID,
		Limit:      SearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// RegisterUser stores a user and gives them the default balance.
func (s *Service) RegisterUser(ctx context.Context, u User) (*User, error) {
	if u.ID == "" {
		u.ID = s.NewID()
	}
	if strings.TrimSpace(u.Username) == "" {
		return nil, &ValidationError{Field: "username", Message: "required"}
	}
	role, err := ParseRole(string(u.Role))
	if err != nil {
		return nil, err
	}
	u.Role = role
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.Now()
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		existing, err := tx.GetBalance(ctx, u.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			b := DefaultBalance(u.ID)
			b.UpdatedAt = u.CreatedAt
			return tx.SaveBalance(ctx, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return &u, nil
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

// CreateSubstitution opens a negotiation between the actor and candidateID.
func (s *Service) CreateSubstitution(ctx context.Context, actor Session, details SubstitutionDetails, candidateID string) (*Substitution, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	if _, err := time.Parse("2006-01-02", details.Date); err != nil {
		return nil, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	if !validClock(details.Time) {
		return nil, &ValidationError{Field: "time", Message: "must be HH:MM"}
	}
	if candidateID == "" {
		return nil, &ValidationError{Field: "requested_to", Message: "required"}
	}
	if candidateID == actor.UserID {
		return nil, newRuleError(ErrForbidden, "you cannot substitute for yourself")
	}

	requester, err := s.Store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get requester: %w", err)
	}
	if requester == nil {
		return nil, newRuleError(ErrNotFound, "requester %s not found", actor.UserID)
	}
	target, err := s.Store.GetUser(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	if target == nil {
		return nil, newRuleError(ErrNotFound, "candidate %s not found", candidateID)
	}
	if target.Role != RoleStaff || target.Department != requester.Department {
		return nil, newRuleError(ErrForbidden, "%s is not staff in your department", target.Username)
	}

	now := s.Now()
	sub := Substitution{
		ID:              s.NewID(),
		RequestedBy:     requester.ID,
		RequestedTo:     target.ID,
		RequestedByName: requester.Username,
		RequestedToName: target.Username,
		Details:         details,
		Status:          SubstitutionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		pending, err := tx.ListSubstitutions(ctx, SubstitutionQuery{
			RequestedBy: requester.ID,
			Statuses:    []SubstitutionStatus{SubstitutionPending},
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return newRuleError(ErrDuplicatePending,
				"you already have a pending substitution request with %s", pending[0].RequestedToName)
		}
		return tx.CreateSubstitution(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("substitution requested",
		zap.String("id", sub.ID),
		zap.String("requested_by", sub.RequestedBy),
		zap.String("requested_to", sub.RequestedTo),
		zap.String("date", details.Date))
	return &sub, nil
}

// SentSubstitutions lists the actor's outgoing requests, newest first.
func (s *Service) SentSubstitutions(ctx context.Context, actor Session) ([]Substitution, error) {
	subs, err := s.Store.ListSubstitutions(ctx, SubstitutionQuery{RequestedBy: actor.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to list sent substitutions: %w", err)
	}
	if subs == nil {
		subs = []Substitution{}
	}
	return subs, nil
}

// ReceivedSubstitutions lists pending requests addressed to the actor.
func (s *Service) ReceivedSubstitutions(ctx context.Context, actor Session) ([]Substitution, error) {
	subs, err := s.Store.ListSubstitutions(ctx, SubstitutionQuery{
		RequestedTo: actor.UserID,
		Statuses:    []SubstitutionStatus{SubstitutionPending},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list received substitutions: %w", err)
	}
	if subs == nil {
		subs = []Substitution{}
	}
	return subs, nil
}

// Respond records the addressee's decision. The first decision wins; a
// second one fails with ErrNotPending.
func (s *Service) Respond(ctx context.Context, actor Session, id string, decision Decision) (*Substitution, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return nil, err
	}
	sub, err := s.Store.GetSubstitution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get substitution: %w", err)
	}
	if sub == nil {
		return nil, newRuleError(ErrNotFound, "substitution %s not found", id)
	}
	if sub.RequestedTo != actor.UserID {
		return nil, newRuleError(ErrForbidden, "not authorized")
	}
	if !sub.IsPending() {
		return nil, newRuleError(ErrNotPending, "request is not pending")
	}

	to := SubstitutionAccepted
	if decision == DecisionReject {
		to = SubstitutionRejected
	}
	now := s.Now()
	if err := s.Store.SetSubstitutionStatus(ctx, id, SubstitutionPending, to, now); err != nil {
		if isConflict(err) {
			return nil, newRuleError(ErrNotPending, "request is not pending")
		}
		return nil, fmt.Errorf("failed to update substitution: %w", err)
	}
	sub.Status = to
	sub.UpdatedAt = now

	s.Logger.Info("substitution answered",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("by", actor.UserID))
	return sub, nil
}

// ExpireStale rejects pending substitutions whose session date is before
// today. Returns how many were rejected.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.Now()
	today := now.Format("2006-01-02")
	stale, err := s.Store.ListSubstitutions(ctx, SubstitutionQuery{
		Statuses:   []SubstitutionStatus{SubstitutionPending},
		DateBefore: today,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale substitutions: %w", err)
	}

	expired := 0
	for _, sub := range stale {
		err := s.Store.SetSubstitutionStatus(ctx, sub.ID, SubstitutionPending, SubstitutionRejected, now)
		if err != nil {
			if isConflict(err) {
				continue // answered in the meantime
			}
			return expired, fmt.Errorf("failed to expire substitution %s: %w", sub.ID, err)
		}
		expired++
	}
	return expired, nil
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// SubmitLeave files a leave for the actor. Staff must reference their own
// accepted substitution; other roles must not need one.
func (s *Service) SubmitLeave(ctx context.Context, actor Session, fields LeaveFields, substitutionID string) (*LeaveRequest, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	author, err := s.Store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get author: %w", err)
	}
	if author == nil {
		return nil, newRuleError(ErrNotFound, "user %s not found", actor.UserID)
	}

	status, err := InitialStatus(author.Role)
	if err != nil {
		return nil, err
	}

	switch {
	case fields.LeaveType == LeaveMaternity && author.Gender != GenderFemale:
		return nil, &ValidationError{Field: "leave_type", Message: "maternity leave is only for female staff"}
	case fields.LeaveType == LeavePaternity && author.Gender != GenderMale:
		return nil, &ValidationError{Field: "leave_type", Message: "paternity leave is only for male staff"}
	}

	if author.Role.RequiresSubstitution() {
		if substitutionID == "" {
			return nil, newRuleError(ErrSubstitutionRequired, "substitution is required to create a leave request")
		}
		sub, err := s.Store.GetSubstitution(ctx, substitutionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get substitution: %w", err)
		}
		if sub == nil || sub.RequestedBy != author.ID {
			return nil, newRuleError(ErrForbidden, "you can only use your own substitution requests")
		}
		if sub.Status != SubstitutionAccepted {
			return nil, newRuleError(ErrSubstitutionRequired, "you can only create leave requests with accepted substitutions")
		}
	} else {
		substitutionID = ""
	}

	now := s.Now()
	leave := LeaveRequest{
		ID:             s.NewID(),
		UserID:         author.ID,
		AuthorRole:     author.Role,
		Department:     author.Department,
		LeaveFields:    fields,
		SubstitutionID: substitutionID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if fields.LeaveType == LeaveCustom {
			if err := checkCustomQuota(ctx, tx, author.ID, fields.StartDate); err != nil {
				return err
			}
		}
		return tx.CreateLeave(ctx, leave)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("leave submitted",
		zap.String("id", leave.ID),
		zap.String("user", leave.UserID),
		zap.String("type", string(leave.LeaveType)),
		zap.String("status", string(leave.Status)),
		zap.String("substitution", substitutionID))
	return &leave, nil
}

func checkCustomQuota(ctx context.Context, tx Store, userID string, start time.Time) error {
	monthStart := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	used, err := tx.ListLeaves(ctx, LeaveQuery{
		UserID:      userID,
		Types:       []LeaveType{LeaveCustom},
		Statuses:    []LeaveStatus{LeavePending, LeavePendingPrincipal, LeaveApproved},
		StartFrom:   monthStart,
		StartBefore: monthStart.AddDate(0, 1, 0),
	})
	if err != nil {
		return err
	}
	if len(used) >= CustomLeavesPerMonth {
		return newRuleError(ErrQuotaExceeded, "only %d custom leaves allowed per month", CustomLeavesPerMonth)
	}
	return nil
}

// RecentLeaves lists the actor's leaves created within the last since.
func (s *Service) RecentLeaves(ctx context.Context, actor Session, since time.Duration) ([]LeaveRequest, error) {
	if since <= 0 {
		return nil, &ValidationError{Field: "since", Message: "must be positive"}
	}
	leaves, err := s.Store.ListLeaves(ctx, LeaveQuery{
		UserID:       actor.UserID,
		CreatedSince: s.Now().Add(-since),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list leaves: %w", err)
	}
	if leaves == nil {
		leaves = []LeaveRequest{}
	}
	return leaves, nil
}

// ApproverQueue lists what the actor has to decide.
func (s *Service) ApproverQueue(ctx context.Context, actor Session) ([]LeaveRequest, error) {
	var q LeaveQuery
	switch actor.Role {
	case RoleHOD:
		q = LeaveQuery{
			Department: actor.Department,
			AuthorRole: RoleStaff,
			Statuses:   []LeaveStatus{LeavePending},
		}
	case RolePrincipal:
		q = LeaveQuery{Statuses: []LeaveStatus{LeavePendingPrincipal}}
	default:
		return nil, newRuleError(ErrForbidden, "only approvers have a queue")
	}
	leaves, err := s.Store.ListLeaves(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	if leaves == nil {
		leaves = []LeaveRequest{}
	}
	return leaves, nil
}

// Decide approves or rejects a leave as the actor. Approving a metered
// leave type draws the duration from the author's balance in the same
// transaction. The decision and its optional comment go to the leave's
// history.
func (s *Service) Decide(ctx context.Context, actor Session, leaveID string, approve bool, comment string) (*LeaveRequest, error) {
	chainActor, ok := ActorFor(actor.Role)
	if !ok {
		return nil, newRuleError(ErrForbidden, "only HOD or Principal can decide leave requests")
	}
	comment = strings.TrimSpace(comment)
	if err := validComment(comment); err != nil {
		return nil, err
	}
	to, kind := LeaveRejected, ActionReject
	if approve {
		to, kind = LeaveApproved, ActionApprove
	}

	var decided *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		leave, err := tx.GetLeave(ctx, leaveID)
		if err != nil {
			return err
		}
		if leave == nil {
			return newRuleError(ErrNotFound, "leave %s not found", leaveID)
		}
		if chainActor == ActorHOD && leave.Department != actor.Department {
			return newRuleError(ErrForbidden, "you can only decide leaves of your department staff")
		}
		if err := CheckTransition(leave.Status, to, chainActor); err != nil {
			return err
		}

		now := s.Now()
		if approve && leave.LeaveType.Metered() {
			bal, err := tx.GetBalance(ctx, leave.UserID)
			if err != nil {
				return err
			}
			if bal == nil {
				d := DefaultBalance(leave.UserID)
				bal = &d
			}
			need := leave.Duration()
			if !bal.Covers(leave.LeaveType, need) {
				return newRuleError(ErrInsufficientBalance, "insufficient %s leave balance: have %s, need %s",
					strings.ToLower(string(leave.LeaveType)), bal.Available(leave.LeaveType), need)
			}
			next := bal.Deduct(leave.LeaveType, need)
			next.UpdatedAt = now
			if err := tx.SaveBalance(ctx, next); err != nil {
				return err
			}
		}

		if err := tx.SetLeaveStatus(ctx, leave.ID, leave.Status, to, actor.UserID, now); err != nil {
			return err
		}
		if err := s.logAction(ctx, tx, actor, kind, *leave, to, comment, now); err != nil {
			return err
		}
		leave.Status = to
		leave.DecidedBy = actor.UserID
		leave.DecidedAt = &now
		leave.UpdatedAt = now
		decided = leave
		return nil
	})
	if err != nil {
		return nil, conflictAsRule(err)
	}

	s.Logger.Info("leave decided",
		zap.String("id", leaveID),
		zap.String("status", string(to)),
		zap.String("by", actor.UserID))
	return decided, nil
}

// Cancel withdraws the actor's own non-terminal leave.
func (s *Service) Cancel(ctx context.Context, actor Session, leaveID string) (*LeaveRequest, error) {
	var cancelled *LeaveRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		leave, err := tx.GetLeave(ctx, leaveID)
		if err != nil {
			return fmt.Errorf("failed to get leave: %w", err)
		}
		if leave == nil {
			return newRuleError(ErrNotFound, "leave %s not found", leaveID)
		}
		if leave.UserID != actor.UserID {
			return newRuleError(ErrForbidden, "only the author can cancel a leave request")
		}
		if err := CheckTransition(leave.Status, LeaveCancelled, ActorAuthor); err != nil {
			return err
		}
		now := s.Now()
		if err := tx.SetLeaveStatus(ctx, leaveID, leave.Status, LeaveCancelled, actor.UserID, now); err != nil {
			return err
		}
		if err := s.logAction(ctx, tx, actor, ActionCancel, *leave, LeaveCancelled, "", now); err != nil {
			return err
		}
		leave.Status = LeaveCancelled
		leave.UpdatedAt = now
		cancelled = leave
		return nil
	})
	if err != nil {
		return nil, conflictAsRule(err)
	}
	return cancelled, nil
}

// LeaveActions returns a leave's decision history, oldest first. The
// author, the HOD of the leave's department and the Principal may read it.
func (s *Service) LeaveActions(ctx context.Context, actor Session, leaveID string) ([]LeaveAction, error) {
	leave, err := s.Store.GetLeave(ctx, leaveID)
	if err != nil {
		return nil, fmt.Errorf("failed to get leave: %w", err)
	}
	if leave == nil {
		return nil, newRuleError(ErrNotFound, "leave %s not found", leaveID)
	}
	switch {
	case leave.UserID == actor.UserID:
	case actor.Role == RolePrincipal:
	case actor.Role == RoleHOD && actor.Department == leave.Department:
	default:
		return nil, newRuleError(ErrForbidden, "you cannot view the history of this leave")
	}
	actions, err := s.Store.ListLeaveActions(ctx, leaveID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leave actions: %w", err)
	}
	if actions == nil {
		actions = []LeaveAction{}
	}
	return actions, nil
}

func (s *Service) logAction(ctx context.Context, tx Store, actor Session, kind LeaveActionKind, leave LeaveRequest, to LeaveStatus, comment string, at time.Time) error {
	return tx.AppendLeaveAction(ctx, LeaveAction{
		ID:        s.NewID(),
		LeaveID:   leave.ID,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    kind,
		From:      leave.Status,
		To:        to,
		Comment:   comment,
		At:        at,
	})
}

// BalanceFor returns the actor's balance, defaulting if none was stored.
func (s *Service) BalanceFor(ctx context.Context, actor Session) (*Balance, error) {
	bal, err := s.Store.GetBalance(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if bal == nil {
		d := DefaultBalance(actor.UserID)
		bal = &d
	}
	return bal, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validClock(s string) bool {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isConflict(err error) bool {
	return err != nil && CodeFor(err) == CodeConflict
}

func conflictAsRule(err error) error {
	if isConflict(err) {
		return newRuleError(ErrConcurrentModification, "the request was changed by someone else, reload and retry")
	}
	return err
}
