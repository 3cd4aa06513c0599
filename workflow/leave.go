package workflow

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveType string

const (
	LeaveEarned       LeaveType = "EARNED"
	LeaveCasual       LeaveType = "CASUAL"
	LeaveMedical      LeaveType = "MEDICAL"
	LeaveCompensatory LeaveType = "COMPENSATORY"
	LeaveMaternity    LeaveType = "MATERNITY"
	LeavePaternity    LeaveType = "PATERNITY"
	LeaveOnDuty       LeaveType = "ONDUTY"
	LeaveCustom       LeaveType = "CUSTOM" // one hour, twice a month
)

// AllLeaveTypes lists the closed set in display order.
var AllLeaveTypes = []LeaveType{
	LeaveEarned, LeaveCasual, LeaveMedical, LeaveCompensatory,
	LeaveMaternity, LeavePaternity, LeaveOnDuty, LeaveCustom,
}

// ParseLeaveType accepts any letter case.
func ParseLeaveType(s string) (LeaveType, error) {
	lt := LeaveType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllLeaveTypes {
		if lt == known {
			return lt, nil
		}
	}
	return "", &ValidationError{Field: "leave_type", Message: "unknown leave type " + s}
}

// Metered reports whether approving this type draws down a balance.
func (t LeaveType) Metered() bool {
	switch t {
	case LeaveEarned, LeaveCasual, LeaveMedical, LeaveCompensatory:
		return true
	}
	return false
}

// CustomLeavesPerMonth caps CUSTOM leave per calendar month.
const CustomLeavesPerMonth = 2

// HoursPerDay converts hourly leave into days.
const HoursPerDay = 8

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the shape of the fields. Rules that need the author or
// stored history (gender, monthly quota) live in the service.
func (f LeaveFields) Validate() error {
	if _, err := ParseLeaveType(string(f.LeaveType)); err != nil {
		return err
	}
	if f.StartDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "required"}
	}
	if f.EndDate.IsZero() {
		return &ValidationError{Field: "end_date", Message: "required"}
	}
	if f.EndDate.Before(f.StartDate) {
		return &ValidationError{Field: "end_date", Message: "cannot be before start date"}
	}
	if strings.TrimSpace(f.Reason) == "" {
		return &ValidationError{Field: "reason", Message: "required"}
	}
	if f.IsHourly && f.Hours <= 0 {
		return &ValidationError{Field: "hours", Message: "must be positive for hourly leave"}
	}
	if f.LeaveType == LeaveCustom && (!f.IsHourly || f.Hours != 1) {
		return &ValidationError{Field: "hours", Message: "custom leave must be exactly 1 hour"}
	}
	return nil
}

// Duration is the length of the leave in days. Hourly leave counts
// hours/HoursPerDay, otherwise both start and end dates are included.
func (f LeaveFields) Duration() decimal.Decimal {
	if f.IsHourly {
		return decimal.NewFromInt(int64(f.Hours)).Div(decimal.NewFromInt(HoursPerDay))
	}
	start := truncateDay(f.StartDate)
	end := truncateDay(f.EndDate)
	days := int64(end.Sub(start).Hours()/24) + 1
	return decimal.NewFromInt(days)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// BALANCES
// =============================================================================

// Balance is a user's remaining leave, in days, per metered type.
type Balance struct {
	UserID    string                        `json:"user_id"`
	Days      map[LeaveType]decimal.Decimal `json:"days"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// DefaultBalance is what a user starts with.
func DefaultBalance(userID string) Balance {
	return Balance{
		UserID: userID,
		Days: map[LeaveType]decimal.Decimal{
			LeaveEarned:       decimal.Zero,
			LeaveCasual:       decimal.NewFromInt(12),
			LeaveMedical:      decimal.NewFromInt(12),
			LeaveCompensatory: decimal.Zero,
		},
	}
}

// Available returns the remaining days for a type.
func (b Balance) Available(t LeaveType) decimal.Decimal {
	if d, ok := b.Days[t]; ok {
		return d
	}
	return decimal.Zero
}

// Covers reports whether the balance can absorb amount days of type t.
func (b Balance) Covers(t LeaveType, amount decimal.Decimal) bool {
	return b.Available(t).GreaterThanOrEqual(amount)
}

// Deduct returns a copy with amount removed from type t.
func (b Balance) Deduct(t LeaveType, amount decimal.Decimal) Balance {
	days := make(map[LeaveType]decimal.Decimal, len(b.Days))
	for k, v := range b.Days {
		days[k] = v
	}
	days[t] = b.Available(t).Sub(amount)
	return Balance{UserID: b.UserID, Days: days, UpdatedAt: b.UpdatedAt}
}

// =============================================================================
// DECISION HISTORY
// =============================================================================

// LeaveActionKind is what an actor did to a leave.
type LeaveActionKind string

const (
	ActionApprove LeaveActionKind = "APPROVE"
	ActionReject  LeaveActionKind = "REJECT"
	ActionCancel  LeaveActionKind = "CANCEL"
)

// MaxCommentLength bounds a decision comment, in characters.
const MaxCommentLength = 1000

// LeaveAction is one entry of a leave's decision history. Entries are
// written in the same transaction as the status change they describe.
type LeaveAction struct {
	ID        string          `json:"id"`
	LeaveID   string          `json:"leave_id"`
	ActorID   string          `json:"actor_id"`
	ActorRole Role            `json:"actor_role"`
	Action    LeaveActionKind `json:"action"`
	From      LeaveStatus     `json:"from"`
	To        LeaveStatus     `json:"to"`
	Comment   string          `json:"comment,omitempty"`
	At        time.Time       `json:"at"`
}

func validComment(c string) error {
	if len([]rune(c)) > MaxCommentLength {
		return &ValidationError{Field: "comment", Message: "too long"}
	}
	return nil
}
