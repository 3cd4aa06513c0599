package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// WORK RECORDS - Extra work that earns leave
// =============================================================================

// WorkKind is the kind of extra work a staff member records.
type WorkKind string

const (
	// WorkNight earns one EARNED day for every NightsPerEarnedDay approved records.
	WorkNight WorkKind = "NIGHT"
	// WorkCompensatory earns one COMPENSATORY day per HoursPerDay worked.
	WorkCompensatory WorkKind = "COMPENSATORY"
)

// NightsPerEarnedDay approved night-work records make one earned day.
const NightsPerEarnedDay = 3

// MaxWorkHours bounds a single record.
const MaxWorkHours = 24

// ParseWorkKind accepts any letter case.
func ParseWorkKind(s string) (WorkKind, error) {
	k := WorkKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case WorkNight, WorkCompensatory:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Message: "must be NIGHT or COMPENSATORY"}
}

// WorkStatus is the approval status of a work record.
type WorkStatus string

const (
	WorkPending  WorkStatus = "PENDING"
	WorkApproved WorkStatus = "APPROVED"
	WorkRejected WorkStatus = "REJECTED"
)

// WorkFields is the caller-supplied part of a work record.
type WorkFields struct {
	Kind   WorkKind `json:"kind"`
	Date   string   `json:"date"` // YYYY-MM-DD
	Hours  int      `json:"hours"`
	Reason string   `json:"reason"`
}

// Validate checks the shape of the fields.
func (f WorkFields) Validate() error {
	if _, err := ParseWorkKind(string(f.Kind)); err != nil {
		return err
	}
	if _, err := time.Parse("2006-01-02", f.Date); err != nil {
		return &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	if f.Hours <= 0 || f.Hours > MaxWorkHours {
		return &ValidationError{Field: "hours", Message: fmt.Sprintf("must be between 1 and %d", MaxWorkHours)}
	}
	if strings.TrimSpace(f.Reason) == "" {
		return &ValidationError{Field: "reason", Message: "required"}
	}
	return nil
}

// WorkRecord is recorded extra work waiting for, or past, the HOD's decision.
type WorkRecord struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Department string `json:"department,omitempty"`
	WorkFields
	Status    WorkStatus `json:"status"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// =============================================================================
// SERVICE
// =============================================================================

// RecordWork stores extra work by a staff member for their HOD to decide.
func (s *Service) RecordWork(ctx context.Context, actor Session, fields WorkFields) (*WorkRecord, error) {
	kind, err := ParseWorkKind(string(fields.Kind))
	if err != nil {
		return nil, err
	}
	fields.Kind = kind
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
	if author.Role != RoleStaff {
		return nil, newRuleError(ErrForbidden, "only staff record extra work")
	}

	rec := WorkRecord{
		ID:         s.NewID(),
		UserID:     author.ID,
		Department: author.Department,
		WorkFields: fields,
		Status:     WorkPending,
		CreatedAt:  s.Now(),
	}
	if err := s.Store.CreateWorkRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record work: %w", err)
	}

	s.Logger.Info("work recorded",
		zap.String("id", rec.ID),
		zap.String("user", rec.UserID),
		zap.String("kind", string(rec.Kind)),
		zap.Int("hours", rec.Hours))
	return &rec, nil
}

// WorkRecords lists the actor's own records, newest first.
func (s *Service) WorkRecords(ctx context.Context, actor Session) ([]WorkRecord, error) {
	recs, err := s.Store.ListWorkRecords(ctx, WorkQuery{UserID: actor.UserID})
	if err != nil {
		return nil, fmt.Errorf("failed to list work records: %w", err)
	}
	if recs == nil {
		recs = []WorkRecord{}
	}
	return recs, nil
}

// WorkQueue lists the pending records of the HOD's department.
func (s *Service) WorkQueue(ctx context.Context, actor Session) ([]WorkRecord, error) {
	if actor.Role != RoleHOD {
		return nil, newRuleError(ErrForbidden, "only HODs decide work records")
	}
	recs, err := s.Store.ListWorkRecords(ctx, WorkQuery{
		Department: actor.Department,
		Statuses:   []WorkStatus{WorkPending},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list work queue: %w", err)
	}
	if recs == nil {
		recs = []WorkRecord{}
	}
	return recs, nil
}

// DecideWork approves or rejects a pending record as the department's HOD.
// Approval credits leave in the same transaction.
func (s *Service) DecideWork(ctx context.Context, actor Session, id string, approve bool) (*WorkRecord, error) {
	if actor.Role != RoleHOD {
		return nil, newRuleError(ErrForbidden, "only HODs decide work records")
	}
	to := WorkRejected
	if approve {
		to = WorkApproved
	}

	var decided *WorkRecord
	err := s.Store.WithTx(ctx, func(tx Store) error {
		rec, err := tx.GetWorkRecord(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return newRuleError(ErrNotFound, "work record %s not found", id)
		}
		if rec.Department != actor.Department {
			return newRuleError(ErrForbidden, "you can only decide work records of your department staff")
		}
		if rec.Status != WorkPending {
			return newRuleError(ErrNotPending, "work record is already %s", strings.ToLower(string(rec.Status)))
		}

		now := s.Now()
		if err := tx.SetWorkRecordStatus(ctx, id, WorkPending, to, actor.UserID, now); err != nil {
			return err
		}
		rec.Status = to
		rec.DecidedBy = actor.UserID
		rec.DecidedAt = &now
		if approve {
			if err := s.creditWork(ctx, tx, *rec); err != nil {
				return err
			}
		}
		decided = rec
		return nil
	})
	if err != nil {
		return nil, conflictAsRule(err)
	}

	s.Logger.Info("work record decided",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("by", actor.UserID))
	return decided, nil
}

// creditWork grants the leave an approved record earns. Night work counts
// toward the next earned day; compensatory work grants whole days.
func (s *Service) creditWork(ctx context.Context, tx Store, rec WorkRecord) error {
	switch rec.Kind {
	case WorkNight:
		approved, err := tx.ListWorkRecords(ctx, WorkQuery{
			UserID:   rec.UserID,
			Kinds:    []WorkKind{WorkNight},
			Statuses: []WorkStatus{WorkApproved},
		})
		if err != nil {
			return err
		}
		n := len(approved)
		if n == 0 || n%NightsPerEarnedDay != 0 {
			return nil
		}
		return s.grant(ctx, tx, Credit{
			UserID:         rec.UserID,
			LeaveType:      LeaveEarned,
			Days:           decimal.NewFromInt(1),
			Source:         CreditNightWork,
			Reference:      rec.ID,
			IdempotencyKey: fmt.Sprintf("night:%s:%d", rec.UserID, n/NightsPerEarnedDay),
			EffectiveAt:    *rec.DecidedAt,
		})

	case WorkCompensatory:
		days := rec.Hours / HoursPerDay
		if days == 0 {
			return nil
		}
		return s.grant(ctx, tx, Credit{
			UserID:         rec.UserID,
			LeaveType:      LeaveCompensatory,
			Days:           decimal.NewFromInt(int64(days)),
			Source:         CreditCompensatory,
			Reference:      rec.ID,
			IdempotencyKey: "compensatory:" + rec.ID,
			EffectiveAt:    *rec.DecidedAt,
		})
	}
	return nil
}
