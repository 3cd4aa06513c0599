package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ACCRUAL SCHEDULE - How earned leave accumulates
// =============================================================================

// EarnedDaysPerMonth is credited as EARNED leave for every month worked.
const EarnedDaysPerMonth = 2

// AccrualSchedule generates accrual events for a time range.
type AccrualSchedule interface {
	// GenerateAccruals returns the events after joined, up to and including to.
	GenerateAccruals(joined, to time.Time) []AccrualEvent
}

// AccrualEvent is a single accrual occurrence.
type AccrualEvent struct {
	At     time.Time
	Days   decimal.Decimal
	Period string // YYYY-MM, part of the idempotency key
}

// MonthlyAccrual credits Days on the first of every calendar month after
// the month of joining, so a user who joined in January has two months
// worked on the 1st of March.
type MonthlyAccrual struct {
	Days decimal.Decimal
}

// DefaultEarnedAccrual is EarnedDaysPerMonth per month.
func DefaultEarnedAccrual() MonthlyAccrual {
	return MonthlyAccrual{Days: decimal.NewFromInt(EarnedDaysPerMonth)}
}

func (a MonthlyAccrual) GenerateAccruals(joined, to time.Time) []AccrualEvent {
	if joined.IsZero() || a.Days.IsZero() {
		return nil
	}
	joined = joined.UTC()
	var events []AccrualEvent
	first := time.Date(joined.Year(), joined.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	for at := first; !at.After(to); at = at.AddDate(0, 1, 0) {
		events = append(events, AccrualEvent{At: at, Days: a.Days, Period: at.Format("2006-01")})
	}
	return events
}

// =============================================================================
// SERVICE
// =============================================================================

// AccrueEarned credits every user the earned leave their months worked
// entitle them to and that the ledger does not hold yet. Safe to run
// repeatedly. Returns how many credits were applied.
func (s *Service) AccrueEarned(ctx context.Context) (int, error) {
	users, err := s.Store.SearchUsers(ctx, UserQuery{})
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	now := s.Now()
	total := 0
	for _, u := range users {
		events := s.EarnedAccrual.GenerateAccruals(u.CreatedAt, now)
		if len(events) == 0 {
			continue
		}
		applied := 0
		err := s.Store.WithTx(ctx, func(tx Store) error {
			applied = 0
			for _, ev := range events {
				err := s.grant(ctx, tx, Credit{
					UserID:         u.ID,
					LeaveType:      LeaveEarned,
					Days:           ev.Days,
					Source:         CreditAccrual,
					Reference:      ev.Period,
					IdempotencyKey: "accrual:" + u.ID + ":" + ev.Period,
					EffectiveAt:    ev.At,
				})
				if errors.Is(err, ErrDuplicateCredit) {
					continue
				}
				if err != nil {
					return err
				}
				applied++
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("failed to accrue for %s: %w", u.ID, err)
		}
		total += applied
	}

	if total > 0 {
		s.Logger.Info("earned leave accrued", zap.Int("credits", total))
	}
	return total, nil
}
