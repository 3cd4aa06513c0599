/*
ledger.go - Append-only log of leave credits

PURPOSE:
  Every day added to a balance is recorded here: monthly earned accrual,
  the earned day granted for every third approved night of work, and the
  compensatory days granted for extra hours. The Balance row is the
  running total; the ledger explains how it got there.

INVARIANTS:
  1. APPEND-ONLY: credits are never updated or deleted
  2. IDEMPOTENT: a key can be applied once, so re-running accrual or
     re-deciding a record never credits twice
  3. ATOMIC: a credit and the balance it raises are written in the same
     transaction

  Deductions are not logged here; an approved leave is its own record.

SEE ALSO:
  - accrual.go: Monthly earned accrual
  - work.go: Night-work and compensatory-work grants
  - store.go: AppendCredit / CreditExists / ListCredits
*/
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditSource says why days were credited.
type CreditSource string

const (
	CreditAccrual      CreditSource = "ACCRUAL"
	CreditNightWork    CreditSource = "NIGHT_WORK"
	CreditCompensatory CreditSource = "COMPENSATORY_WORK"
)

// Credit is one ledger entry.
type Credit struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	LeaveType      LeaveType       `json:"leave_type"`
	Days           decimal.Decimal `json:"days"`
	Source         CreditSource    `json:"source"`
	Reference      string          `json:"reference,omitempty"` // work record id, or accrual month
	IdempotencyKey string          `json:"-"`
	EffectiveAt    time.Time       `json:"effective_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Credit returns a copy with amount added to type t.
func (b Balance) Credit(t LeaveType, amount decimal.Decimal) Balance {
	return b.Deduct(t, amount.Neg())
}

// grant appends c and raises the user's balance inside tx. A key that is
// already in the ledger fails with ErrDuplicateCredit and writes nothing.
func (s *Service) grant(ctx context.Context, tx Store, c Credit) error {
	if c.IdempotencyKey != "" {
		exists, err := tx.CreditExists(ctx, c.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCredit
		}
	}
	if c.ID == "" {
		c.ID = s.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.Now()
	}

	bal, err := tx.GetBalance(ctx, c.UserID)
	if err != nil {
		return err
	}
	if bal == nil {
		d := DefaultBalance(c.UserID)
		bal = &d
	}
	next := bal.Credit(c.LeaveType, c.Days)
	next.UpdatedAt = c.CreatedAt

	if err := tx.AppendCredit(ctx, c); err != nil {
		return err
	}
	if err := tx.SaveBalance(ctx, next); err != nil {
		return err
	}

	s.Logger.Info("leave credited",
		zap.String("user", c.UserID),
		zap.String("type", string(c.LeaveType)),
		zap.String("days", c.Days.String()),
		zap.String("source", string(c.Source)),
		zap.String("reference", c.Reference))
	return nil
}

// Credits lists the actor's ledger, oldest first.
func (s *Service) Credits(ctx context.Context, actor Session) ([]Credit, error) {
	credits, err := s.Store.ListCredits(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	if credits == nil {
		credits = []Credit{}
	}
	return credits, nil
}
