package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// APPROVAL CHAIN
// =============================================================================

func TestNextApprover_ByAuthorRole(t *testing.T) {
	tests := []struct {
		author   workflow.Role
		approver workflow.Role
		ok       bool
		initial  workflow.LeaveStatus
	}{
		{workflow.RoleStaff, workflow.RoleHOD, true, workflow.LeavePending},
		{workflow.RoleHOD, workflow.RolePrincipal, true, workflow.LeavePendingPrincipal},
		{workflow.RolePrincipal, "", false, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.author), func(t *testing.T) {
			approver, ok := workflow.NextApprover(tt.author)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.approver, approver)

			status, err := workflow.InitialStatus(tt.author)
			if !tt.ok {
				assert.True(t, errors.Is(err, workflow.ErrNoApprover))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.initial, status)

			// The initial status sits in the approver's queue.
			queue, ok := status.AwaitingRole()
			assert.True(t, ok)
			assert.Equal(t, tt.approver, queue)
		})
	}
}

func TestCanTransition_Table(t *testing.T) {
	tests := []struct {
		name  string
		from  workflow.LeaveStatus
		to    workflow.LeaveStatus
		actor workflow.Actor
		want  bool
	}{
		{"hod approves staff leave", workflow.LeavePending, workflow.LeaveApproved, workflow.ActorHOD, true},
		{"hod rejects staff leave", workflow.LeavePending, workflow.LeaveRejected, workflow.ActorHOD, true},
		{"hod cannot decide principal queue", workflow.LeavePendingPrincipal, workflow.LeaveApproved, workflow.ActorHOD, false},
		{"principal approves hod leave", workflow.LeavePendingPrincipal, workflow.LeaveApproved, workflow.ActorPrincipal, true},
		{"principal cannot decide hod queue", workflow.LeavePending, workflow.LeaveApproved, workflow.ActorPrincipal, false},
		{"author cancels pending", workflow.LeavePending, workflow.LeaveCancelled, workflow.ActorAuthor, true},
		{"author cancels pending principal", workflow.LeavePendingPrincipal, workflow.LeaveCancelled, workflow.ActorAuthor, true},
		{"author cannot approve", workflow.LeavePending, workflow.LeaveApproved, workflow.ActorAuthor, false},
		{"terminal is final", workflow.LeaveApproved, workflow.LeaveCancelled, workflow.ActorAuthor, false},
		{"no re-decision", workflow.LeaveRejected, workflow.LeaveApproved, workflow.ActorHOD, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, workflow.CanTransition(tt.from, tt.to, tt.actor))
			err := workflow.CheckTransition(tt.from, tt.to, tt.actor)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
			}
		})
	}
}

// =============================================================================
// STATUS ORDERING
// =============================================================================

func TestSubstitutionStatus_Advances(t *testing.T) {
	p, a, r := workflow.SubstitutionPending, workflow.SubstitutionAccepted, workflow.SubstitutionRejected

	assert.True(t, p.Advances(a))
	assert.True(t, p.Advances(r))
	assert.False(t, p.Advances(p))
	assert.False(t, a.Advances(p), "no regression")
	assert.False(t, a.Advances(r), "terminal statuses are incomparable")
	assert.False(t, r.Advances(a))
	assert.False(t, workflow.SubstitutionStatus("BOGUS").Advances(a))
}

func TestParseLeaveStatus_KeepsPendingPrincipalDistinct(t *testing.T) {
	s, err := workflow.ParseLeaveStatus("pending_principal")
	require.NoError(t, err)
	assert.Equal(t, workflow.LeavePendingPrincipal, s)
	assert.NotEqual(t, workflow.LeavePending, s)
	assert.Equal(t, "Pending Principal approval", s.Label())

	_, err = workflow.ParseLeaveStatus("WAITING")
	assert.Error(t, err)
}

// =============================================================================
// LEAVE FIELDS
// =============================================================================

func validFields() workflow.LeaveFields {
	return workflow.LeaveFields{
		LeaveType: workflow.LeaveCasual,
		StartDate: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Reason:    "family event",
	}
}

func TestLeaveFields_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*workflow.LeaveFields)
		field  string
	}{
		{"valid", func(*workflow.LeaveFields) {}, ""},
		{"unknown type", func(f *workflow.LeaveFields) { f.LeaveType = "VACATION" }, "leave_type"},
		{"missing start", func(f *workflow.LeaveFields) { f.StartDate = time.Time{} }, "start_date"},
		{"end before start", func(f *workflow.LeaveFields) { f.EndDate = f.StartDate.AddDate(0, 0, -1) }, "end_date"},
		{"blank reason", func(f *workflow.LeaveFields) { f.Reason = "  " }, "reason"},
		{"hourly without hours", func(f *workflow.LeaveFields) { f.IsHourly = true }, "hours"},
		{"custom two hours", func(f *workflow.LeaveFields) {
			f.LeaveType = workflow.LeaveCustom
			f.IsHourly = true
			f.Hours = 2
		}, "hours"},
		{"custom one hour", func(f *workflow.LeaveFields) {
			f.LeaveType = workflow.LeaveCustom
			f.IsHourly = true
			f.Hours = 1
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFields()
			tt.mutate(&f)
			err := f.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *workflow.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLeaveFields_Duration(t *testing.T) {
	f := validFields()
	assert.True(t, f.Duration().Equal(decimal.NewFromInt(3)), "start and end inclusive")

	f.EndDate = f.StartDate
	assert.True(t, f.Duration().Equal(decimal.NewFromInt(1)))

	f.IsHourly = true
	f.Hours = 4
	assert.True(t, f.Duration().Equal(decimal.RequireFromString("0.5")))
}

func TestBalance_DeductReturnsCopy(t *testing.T) {
	b := workflow.DefaultBalance("u1")
	next := b.Deduct(workflow.LeaveCasual, decimal.NewFromInt(2))

	assert.True(t, b.Available(workflow.LeaveCasual).Equal(decimal.NewFromInt(12)))
	assert.True(t, next.Available(workflow.LeaveCasual).Equal(decimal.NewFromInt(10)))
	assert.True(t, next.Covers(workflow.LeaveCasual, decimal.NewFromInt(10)))
	assert.False(t, next.Covers(workflow.LeaveEarned, decimal.NewFromInt(1)))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestRemoteRejection_UnwrapsToSentinel(t *testing.T) {
	err := error(&workflow.RemoteRejection{
		Op:     "create substitution",
		Code:   workflow.CodeDuplicatePending,
		Reason: "You already have a pending substitution request with bob",
		Status: 409,
	})

	assert.True(t, errors.Is(err, workflow.ErrDuplicatePending))
	assert.True(t, workflow.IsRejection(err))
	assert.False(t, workflow.IsTransient(err))
	assert.Equal(t, "You already have a pending substitution request with bob", workflow.RejectionReason(err))
	assert.Equal(t, workflow.CodeDuplicatePending, workflow.CodeFor(err))
}

func TestCodeFor_Classes(t *testing.T) {
	assert.Equal(t, workflow.CodeValidation, workflow.CodeFor(&workflow.ValidationError{Field: "date", Message: "required"}))
	assert.Equal(t, workflow.CodeConflict, workflow.CodeFor(workflow.ErrConcurrentModification))
	assert.Equal(t, "", workflow.CodeFor(errors.New("disk on fire")))

	te := &workflow.TransientNetworkError{Op: "poll", Err: errors.New("timeout")}
	assert.True(t, workflow.IsTransient(te))
	assert.False(t, workflow.IsRejection(te))
}
