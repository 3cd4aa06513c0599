package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/workflow"
	"github.com/warp/leave-engine/workflow/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *workflow.Service
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := now
	svc := workflow.NewService(store.NewMemory(), nil)
	svc.Now = func() time.Time { return clock }
	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}

	ctx := context.Background()
	users := []workflow.User{
		{ID: "alice", Username: "alice", Email: "alice@school.test", Role: workflow.RoleStaff, Department: "CS", Gender: workflow.GenderFemale},
		{ID: "bob", Username: "bob", Email: "bob@school.test", Role: workflow.RoleStaff, Department: "CS", Gender: workflow.GenderMale},
		{ID: "carol", Username: "carol", Email: "carol@school.test", Role: workflow.RoleStaff, Department: "EE", Gender: workflow.GenderFemale},
		{ID: "hod", Username: "hod_cs", Email: "hod@school.test", Role: workflow.RoleHOD, Department: "CS", Gender: workflow.GenderMale},
		{ID: "principal", Username: "principal", Email: "principal@school.test", Role: workflow.RolePrincipal},
	}
	for _, u := range users {
		_, err := svc.RegisterUser(ctx, u)
		require.NoError(t, err)
	}
	return &fixture{svc: svc, clock: &clock}
}

func session(id string, role workflow.Role, dept string) workflow.Session {
	return workflow.Session{UserID: id, Role: role, Department: dept}
}

var (
	aliceSession     = session("alice", workflow.RoleStaff, "CS")
	bobSession       = session("bob", workflow.RoleStaff, "CS")
	hodSession       = session("hod", workflow.RoleHOD, "CS")
	principalSession = session("principal", workflow.RolePrincipal, "")
)

func details() workflow.SubstitutionDetails {
	return workflow.SubstitutionDetails{Date: "2025-03-12", Period: "Period 2", Time: "10:00", ClassLabel: "CS-2A"}
}

func leaveFields(t workflow.LeaveType) workflow.LeaveFields {
	return workflow.LeaveFields{
		LeaveType: t,
		StartDate: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		Reason:    "family",
	}
}

func acceptedSubstitution(t *testing.T, f *fixture) *workflow.Substitution {
	t.Helper()
	ctx := context.Background()
	sub, err := f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)
	sub, err = f.svc.Respond(ctx, bobSession, sub.ID, workflow.DecisionAccept)
	require.NoError(t, err)
	return sub
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestSearchCandidates_SameDepartmentStaffExcludingSelf(t *testing.T) {
	f := newFixture(t)

	users, err := f.svc.SearchCandidates(context.Background(), aliceSession, "school.test")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].ID)

	users, err = f.svc.SearchCandidates(context.Background(), aliceSession, "zzz")
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = f.svc.SearchCandidates(context.Background(), aliceSession, "   ")
	assert.True(t, workflow.IsValidation(err))
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

func TestCreateSubstitution_DuplicatePendingRejected(t *testing.T) {
	// GIVEN: alice has a pending request with bob
	// WHEN: alice sends another one
	// THEN: the service refuses with ErrDuplicatePending
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)
	assert.Equal(t, workflow.SubstitutionPending, sub.Status)
	assert.Equal(t, "alice", sub.RequestedByName)
	assert.Equal(t, "bob", sub.RequestedToName)

	_, err = f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	assert.True(t, errors.Is(err, workflow.ErrDuplicatePending))
	assert.Contains(t, err.Error(), "bob")
}

func TestCreateSubstitution_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := details()
	bad.Period = ""
	_, err := f.svc.CreateSubstitution(ctx, aliceSession, bad, "bob")
	assert.True(t, workflow.IsValidation(err))

	bad = details()
	bad.Date = "12/03/2025"
	_, err = f.svc.CreateSubstitution(ctx, aliceSession, bad, "bob")
	assert.True(t, workflow.IsValidation(err))

	_, err = f.svc.CreateSubstitution(ctx, aliceSession, details(), "alice")
	assert.True(t, errors.Is(err, workflow.ErrForbidden))

	_, err = f.svc.CreateSubstitution(ctx, aliceSession, details(), "carol")
	assert.True(t, errors.Is(err, workflow.ErrForbidden), "other department")

	_, err = f.svc.CreateSubstitution(ctx, aliceSession, details(), "ghost")
	assert.True(t, errors.Is(err, workflow.ErrNotFound))
}

func TestRespond_OnlyAddresseeAndOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, aliceSession, sub.ID, workflow.DecisionAccept)
	assert.True(t, errors.Is(err, workflow.ErrForbidden))

	received, err := f.svc.ReceivedSubstitutions(ctx, bobSession)
	require.NoError(t, err)
	require.Len(t, received, 1)

	answered, err := f.svc.Respond(ctx, bobSession, sub.ID, workflow.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, workflow.SubstitutionRejected, answered.Status)

	_, err = f.svc.Respond(ctx, bobSession, sub.ID, workflow.DecisionAccept)
	assert.True(t, errors.Is(err, workflow.ErrNotPending))

	received, err = f.svc.ReceivedSubstitutions(ctx, bobSession)
	require.NoError(t, err)
	assert.Empty(t, received)
}

func TestRespond_ConcurrentDecisionsFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, d := range []workflow.Decision{workflow.DecisionAccept, workflow.DecisionReject} {
		wg.Add(1)
		go func(i int, d workflow.Decision) {
			defer wg.Done()
			_, results[i] = f.svc.Respond(ctx, bobSession, sub.ID, d)
		}(i, d)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			assert.True(t, errors.Is(err, workflow.ErrNotPending))
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestExpireStale_RejectsPastPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := details()
	past.Date = "2025-03-09"
	stale, err := f.svc.CreateSubstitution(ctx, aliceSession, past, "bob")
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent, err := f.svc.SentSubstitutions(ctx, aliceSession)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, stale.ID, sent[0].ID)
	assert.Equal(t, workflow.SubstitutionRejected, sent[0].Status)

	// Today's session stays pending.
	_, err = f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)
	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// LEAVE SUBMISSION
// =============================================================================

func TestSubmitLeave_StaffNeedsAcceptedSubstitution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCasual), "")
	assert.True(t, errors.Is(err, workflow.ErrSubstitutionRequired))

	pending, err := f.svc.CreateSubstitution(ctx, aliceSession, details(), "bob")
	require.NoError(t, err)
	_, err = f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCasual), pending.ID)
	assert.True(t, errors.Is(err, workflow.ErrSubstitutionRequired))

	_, err = f.svc.Respond(ctx, bobSession, pending.ID, workflow.DecisionAccept)
	require.NoError(t, err)

	// bob cannot borrow alice's substitution
	_, err = f.svc.SubmitLeave(ctx, bobSession, leaveFields(workflow.LeaveCasual), pending.ID)
	assert.True(t, errors.Is(err, workflow.ErrForbidden))

	leave, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCasual), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.LeavePending, leave.Status)
	assert.Equal(t, pending.ID, leave.SubstitutionID)
}

func TestSubmitLeave_HODGoesToPrincipalWithoutSubstitution(t *testing.T) {
	f := newFixture(t)

	leave, err := f.svc.SubmitLeave(context.Background(), hodSession, leaveFields(workflow.LeaveEarned), "ignored")
	require.NoError(t, err)
	assert.Equal(t, workflow.LeavePendingPrincipal, leave.Status)
	assert.Empty(t, leave.SubstitutionID)
}

func TestSubmitLeave_PrincipalHasNoApprover(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitLeave(context.Background(), principalSession, leaveFields(workflow.LeaveCasual), "")
	assert.True(t, errors.Is(err, workflow.ErrNoApprover))
}

func TestSubmitLeave_GenderSpecificTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := acceptedSubstitution(t, f)

	_, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeavePaternity), sub.ID)
	assert.True(t, workflow.IsValidation(err))

	_, err = f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveMaternity), "")
	assert.True(t, workflow.IsValidation(err))

	_, err = f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveMaternity), sub.ID)
	assert.NoError(t, err)
}

func TestSubmitLeave_CustomQuotaPerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	custom := leaveFields(workflow.LeaveCustom)
	custom.EndDate = custom.StartDate
	custom.IsHourly = true
	custom.Hours = 1

	for i := 0; i < workflow.CustomLeavesPerMonth; i++ {
		_, err := f.svc.SubmitLeave(ctx, hodSession, custom, "")
		require.NoError(t, err)
	}
	_, err := f.svc.SubmitLeave(ctx, hodSession, custom, "")
	assert.True(t, errors.Is(err, workflow.ErrQuotaExceeded))

	// Next month has a fresh quota.
	custom.StartDate = custom.StartDate.AddDate(0, 1, 0)
	custom.EndDate = custom.StartDate
	_, err = f.svc.SubmitLeave(ctx, hodSession, custom, "")
	assert.NoError(t, err)
}

func TestRecentLeaves_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveEarned), "")
	require.NoError(t, err)

	recent, err := f.svc.RecentLeaves(ctx, hodSession, time.Hour)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	*f.clock = now.Add(2 * time.Hour)
	recent, err = f.svc.RecentLeaves(ctx, hodSession, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestDecide_HODApprovesAndDeductsBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := acceptedSubstitution(t, f)

	leave, err := f.svc.SubmitLeave(ctx, aliceSession, leaveFields(workflow.LeaveCasual), sub.ID)
	require.NoError(t, err)

	queue, err := f.svc.ApproverQueue(ctx, hodSession)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	// The principal does not see staff leave.
	queue, err = f.svc.ApproverQueue(ctx, principalSession)
	require.NoError(t, err)
	assert.Empty(t, queue)

	decided, err := f.svc.Decide(ctx, hodSession, leave.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.LeaveApproved, decided.Status)
	assert.Equal(t, "hod", decided.DecidedBy)

	bal, err := f.svc.BalanceFor(ctx, aliceSession)
	require.NoError(t, err)
	assert.True(t, bal.Available(workflow.LeaveCasual).Equal(decimal.NewFromInt(10)))

	_, err = f.svc.Decide(ctx, hodSession, leave.ID, false, "")
	assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
}

func TestDecide_InsufficientBalanceRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Earned leave starts at zero.
	leave, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveEarned), "")
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, principalSession, leave.ID, true, "")
	assert.True(t, errors.Is(err, workflow.ErrInsufficientBalance))

	queue, err := f.svc.ApproverQueue(ctx, principalSession)
	require.NoError(t, err)
	require.Len(t, queue, 1, "leave stays pending")

	rejected, err := f.svc.Decide(ctx, principalSession, leave.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.LeaveRejected, rejected.Status)
}

func TestDecide_WrongApprover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leave, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveOnDuty), "")
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, hodSession, leave.ID, true, "")
	assert.True(t, errors.Is(err, workflow.ErrInvalidTransition), "HOD cannot decide own escalated leave")

	_, err = f.svc.Decide(ctx, bobSession, leave.ID, true, "")
	assert.True(t, errors.Is(err, workflow.ErrForbidden))

	_, err = f.svc.ApproverQueue(ctx, bobSession)
	assert.True(t, errors.Is(err, workflow.ErrForbidden))
}

func TestCancel_AuthorOnlyWhileNonTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leave, err := f.svc.SubmitLeave(ctx, hodSession, leaveFields(workflow.LeaveOnDuty), "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, principalSession, leave.ID)
	assert.True(t, errors.Is(err, workflow.ErrForbidden))

	cancelled, err := f.svc.Cancel(ctx, hodSession, leave.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.LeaveCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, hodSession, leave.ID)
	assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
}
