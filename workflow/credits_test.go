package workflow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// ACCRUAL
// =============================================================================

func TestMonthlyAccrual_FirstOfEachMonthAfterJoining(t *testing.T) {
	a := workflow.DefaultEarnedAccrual()

	events := a.GenerateAccruals(time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC), now)
	require.Len(t, events, 2)
	assert.Equal(t, "2025-02", events[0].Period)
	assert.Equal(t, "2025-03", events[1].Period)
	assert.True(t, events[1].At.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].Days.Equal(decimal.NewFromInt(workflow.EarnedDaysPerMonth)))

	assert.Empty(t, a.GenerateAccruals(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), now), "no month worked yet")
	assert.Empty(t, a.GenerateAccruals(time.Time{}, now))
}

func TestAccrueEarned_MakesEarnedLeaveApprovable(t *testing.T) {
	// GIVEN: an HOD who joined in January files two days of EARNED leave
	// WHEN: the principal approves before and after accrual runs
	// THEN: the first approval fails on balance, the second succeeds
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, workflow.User{
		ID: "hod-me", Username: "hod_me", Role: workflow.RoleHOD, Department: "ME",
		CreatedAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	hodME := session("hod-me", workflow.RoleHOD, "ME")

	leave, err := f.svc.SubmitLeave(ctx, hodME, leaveFields(workflow.LeaveEarned), "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, principalSession, leave.ID, true, "")
	require.ErrorIs(t, err, workflow.ErrInsufficientBalance)

	applied, err := f.svc.AccrueEarned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied, "February and March")

	decided, err := f.svc.Decide(ctx, principalSession, leave.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.LeaveApproved, decided.Status)

	bal, err := f.svc.BalanceFor(ctx, hodME)
	require.NoError(t, err)
	assert.True(t, bal.Available(workflow.LeaveEarned).Equal(decimal.NewFromInt(2)))

	credits, err := f.svc.Credits(ctx, hodME)
	require.NoError(t, err)
	require.Len(t, credits, 2)
	assert.Equal(t, workflow.CreditAccrual, credits[0].Source)
	assert.Equal(t, "2025-02", credits[0].Reference)
}

func TestAccrueEarned_RunsOncePerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterUser(ctx, workflow.User{
		ID: "dave", Username: "dave", Role: workflow.RoleStaff, Department: "CS",
		CreatedAt: time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	dave := session("dave", workflow.RoleStaff, "CS")

	applied, err := f.svc.AccrueEarned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = f.svc.AccrueEarned(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	// A month later everyone gets April, dave included.
	*f.clock = now.AddDate(0, 1, 0)
	applied, err = f.svc.AccrueEarned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, applied)

	bal, err := f.svc.BalanceFor(ctx, dave)
	require.NoError(t, err)
	assert.True(t, bal.Available(workflow.LeaveEarned).Equal(decimal.NewFromInt(4)))
}

// =============================================================================
// WORK RECORDS
// =============================================================================

func work(kind workflow.WorkKind, date string, hours int) workflow.WorkFields {
	return workflow.WorkFields{Kind: kind, Date: date, Hours: hours, Reason: "exam duty"}
}

func approveWork(t *testing.T, f *fixture, fields workflow.WorkFields) *workflow.WorkRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := f.svc.RecordWork(ctx, aliceSession, fields)
	require.NoError(t, err)
	rec, err = f.svc.DecideWork(ctx, hodSession, rec.ID, true)
	require.NoError(t, err)
	return rec
}

func earned(t *testing.T, f *fixture, s workflow.Session, lt workflow.LeaveType) decimal.Decimal {
	t.Helper()
	bal, err := f.svc.BalanceFor(context.Background(), s)
	require.NoError(t, err)
	return bal.Available(lt)
}

func TestDecideWork_EveryThirdNightEarnsADay(t *testing.T) {
	// GIVEN: alice records night work three times
	// WHEN: the HOD approves each record
	// THEN: only the third approval credits one EARNED day
	f := newFixture(t)

	approveWork(t, f, work(workflow.WorkNight, "2025-03-03", 6))
	approveWork(t, f, work(workflow.WorkNight, "2025-03-04", 6))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveEarned).IsZero())

	third := approveWork(t, f, work(workflow.WorkNight, "2025-03-05", 6))
	assert.Equal(t, workflow.WorkApproved, third.Status)
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveEarned).Equal(decimal.NewFromInt(1)))

	credits, err := f.svc.Credits(context.Background(), aliceSession)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, workflow.CreditNightWork, credits[0].Source)
	assert.Equal(t, third.ID, credits[0].Reference)

	// A rejected night does not count.
	ctx := context.Background()
	rec, err := f.svc.RecordWork(ctx, aliceSession, work(workflow.WorkNight, "2025-03-06", 6))
	require.NoError(t, err)
	_, err = f.svc.DecideWork(ctx, hodSession, rec.ID, false)
	require.NoError(t, err)
	approveWork(t, f, work(workflow.WorkNight, "2025-03-07", 6))
	approveWork(t, f, work(workflow.WorkNight, "2025-03-08", 6))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveEarned).Equal(decimal.NewFromInt(1)))
	approveWork(t, f, work(workflow.WorkNight, "2025-03-09", 6))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveEarned).Equal(decimal.NewFromInt(2)))
}

func TestDecideWork_CompensatoryWholeDays(t *testing.T) {
	f := newFixture(t)

	approveWork(t, f, work(workflow.WorkCompensatory, "2025-03-01", 6))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveCompensatory).IsZero(), "under a day")

	approveWork(t, f, work(workflow.WorkCompensatory, "2025-03-02", 8))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveCompensatory).Equal(decimal.NewFromInt(1)))

	approveWork(t, f, work(workflow.WorkCompensatory, "2025-03-08", 17))
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveCompensatory).Equal(decimal.NewFromInt(3)))
}

func TestCompensatoryCredit_CoversCompensatoryLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := acceptedSubstitution(t, f)

	leave, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCompensatory), sub.ID)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, hodSession, leave.ID, true, "")
	require.ErrorIs(t, err, workflow.ErrInsufficientBalance)

	approveWork(t, f, work(workflow.WorkCompensatory, "2025-03-01", 16))
	_, err = f.svc.Decide(ctx, hodSession, leave.ID, true, "")
	require.NoError(t, err)
	assert.True(t, earned(t, f, aliceSession, workflow.LeaveCompensatory).IsZero())
}

func TestWorkRecords_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordWork(ctx, aliceSession, work(workflow.WorkNight, "2025-03-05", 0))
	assert.True(t, workflow.IsValidation(err))
	_, err = f.svc.RecordWork(ctx, aliceSession, work("DAY", "2025-03-05", 4))
	assert.True(t, workflow.IsValidation(err))
	_, err = f.svc.RecordWork(ctx, aliceSession, work(workflow.WorkNight, "05/03/2025", 4))
	assert.True(t, workflow.IsValidation(err))
	_, err = f.svc.RecordWork(ctx, hodSession, work(workflow.WorkNight, "2025-03-05", 4))
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	rec, err := f.svc.RecordWork(ctx, aliceSession, work("night", "2025-03-05", 4))
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkNight, rec.Kind)
	assert.Equal(t, "CS", rec.Department)

	queue, err := f.svc.WorkQueue(ctx, hodSession)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	eeHOD := session("hod-ee", workflow.RoleHOD, "EE")
	queue, err = f.svc.WorkQueue(ctx, eeHOD)
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = f.svc.DecideWork(ctx, eeHOD, rec.ID, true)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = f.svc.DecideWork(ctx, bobSession, rec.ID, true)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = f.svc.WorkQueue(ctx, principalSession)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = f.svc.DecideWork(ctx, hodSession, rec.ID, false)
	require.NoError(t, err)
	_, err = f.svc.DecideWork(ctx, hodSession, rec.ID, true)
	assert.ErrorIs(t, err, workflow.ErrNotPending)
	_, err = f.svc.DecideWork(ctx, hodSession, "missing", true)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	mine, err := f.svc.WorkRecords(ctx, aliceSession)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, workflow.WorkRejected, mine[0].Status)
	assert.Equal(t, "hod", mine[0].DecidedBy)
}

// =============================================================================
// DECISION HISTORY
// =============================================================================

func TestDecide_CommentGoesToHistory(t *testing.T) {
	// GIVEN: alice's leave pending with her HOD
	// WHEN: the HOD rejects it with a comment
	// THEN: the history holds one REJECT entry carrying the comment
	f := newFixture(t)
	ctx := context.Background()
	sub := acceptedSubstitution(t, f)

	leave, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCasual), sub.ID)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, hodSession, leave.ID, false, "  exam week, pick other dates ")
	require.NoError(t, err)

	actions, err := f.svc.LeaveActions(ctx, aliceSession, leave.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, workflow.ActionReject, a.Action)
	assert.Equal(t, "hod", a.ActorID)
	assert.Equal(t, workflow.RoleHOD, a.ActorRole)
	assert.Equal(t, workflow.LeavePending, a.From)
	assert.Equal(t, workflow.LeaveRejected, a.To)
	assert.Equal(t, "exam week, pick other dates", a.Comment)
	assert.True(t, a.At.Equal(now))

	_, err = f.svc.LeaveActions(ctx, hodSession, leave.ID)
	assert.NoError(t, err)
	_, err = f.svc.LeaveActions(ctx, principalSession, leave.ID)
	assert.NoError(t, err)
	_, err = f.svc.LeaveActions(ctx, bobSession, leave.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = f.svc.LeaveActions(ctx, aliceSession, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestDecide_FailedDecisionLeavesNoHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leave, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveEarned), "")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, principalSession, leave.ID, true, "fine by me")
	require.ErrorIs(t, err, workflow.ErrInsufficientBalance)

	_, err = f.svc.Decide(ctx, principalSession, leave.ID, true, strings.Repeat("x", workflow.MaxCommentLength+1))
	assert.True(t, workflow.IsValidation(err))

	actions, err := f.svc.LeaveActions(ctx, hodSession, leave.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestCancel_RecordedInHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leave, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveOnDuty), "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, hodSession, leave.ID)
	require.NoError(t, err)

	actions, err := f.svc.LeaveActions(ctx, principalSession, leave.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, workflow.ActionCancel, actions[0].Action)
	assert.Equal(t, workflow.LeavePendingPrincipal, actions[0].From)
	assert.Equal(t, workflow.LeaveCancelled, actions[0].To)
	assert.Empty(t, actions[0].Comment)
}
