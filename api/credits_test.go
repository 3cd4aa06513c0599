package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// DECISION HISTORY
// =============================================================================

func TestLeaveHistory_KeepsApproverComment(t *testing.T) {
	// GIVEN: an HOD's leave waiting for the principal
	// WHEN: the principal rejects it with a comment
	// THEN: the history shows the comment to the author but not to other staff
	ts := setupTestServer(t)

	rec := ts.call(t, http.MethodPost, "/api/leaves", "hod-cs", casualLeave(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	leave := decode[LeaveDTO](t, rec)

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/reject", "principal", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/reject", "principal",
		DecideLeaveRequest{Comment: "inspection that week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.call(t, http.MethodGet, "/api/leaves/"+leave.ID+"/history", "hod-cs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	actions := decode[[]workflow.LeaveAction](t, rec)
	require.Len(t, actions, 1)
	assert.Equal(t, workflow.ActionReject, actions[0].Action)
	assert.Equal(t, "principal", actions[0].ActorID)
	assert.Equal(t, "inspection that week", actions[0].Comment)
	assert.Equal(t, workflow.LeavePendingPrincipal, actions[0].From)

	rec = ts.call(t, http.MethodGet, "/api/leaves/"+leave.ID+"/history", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.call(t, http.MethodGet, "/api/leaves/nope/history", "principal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// WORK AND CREDITS
// =============================================================================

func TestWork_ThreeNightsMakeEarnedLeaveApprovable(t *testing.T) {
	// GIVEN: alice has no earned leave
	// WHEN: her HOD approves three nights of work
	// THEN: one EARNED day is credited and her one-day EARNED leave is approved
	ts := setupTestServer(t)

	for _, date := range []string{"2025-03-03", "2025-03-04", "2025-03-05"} {
		rec := ts.call(t, http.MethodPost, "/api/work", "alice",
			workflow.WorkFields{Kind: workflow.WorkNight, Date: date, Hours: 6, Reason: "hostel duty"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.call(t, http.MethodGet, "/api/work/queue", "hod-ee", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]workflow.WorkRecord](t, rec), "other department")

	rec = ts.call(t, http.MethodGet, "/api/work/queue", "hod-cs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[[]workflow.WorkRecord](t, rec)
	require.Len(t, queue, 3)
	for _, w := range queue {
		rec = ts.call(t, http.MethodPost, "/api/work/"+w.ID+"/approve", "hod-cs", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, workflow.WorkApproved, decode[workflow.WorkRecord](t, rec).Status)
	}

	rec = ts.call(t, http.MethodPost, "/api/work/"+queue[0].ID+"/reject", "hod-cs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.CodeNotPending, decode[ErrorResponse](t, rec).Code)

	rec = ts.call(t, http.MethodGet, "/api/credits", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	credits := decode[[]workflow.Credit](t, rec)
	require.Len(t, credits, 1)
	assert.Equal(t, workflow.CreditNightWork, credits[0].Source)
	assert.True(t, credits[0].Days.Equal(decimal.NewFromInt(1)))

	rec = ts.call(t, http.MethodGet, "/api/work", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]workflow.WorkRecord](t, rec), 3)

	// File one day of EARNED leave with jdoe covering.
	rec = ts.call(t, http.MethodPost, "/api/substitutions", "alice", coverRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[workflow.Substitution](t, rec)
	rec = ts.call(t, http.MethodPost, "/api/substitutions/"+sub.ID+"/accept", "jdoe", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := casualLeave(sub.ID)
	body.LeaveType = "EARNED"
	rec = ts.call(t, http.MethodPost, "/api/leaves", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	leave := decode[LeaveDTO](t, rec)

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/approve", "hod-cs", DecideLeaveRequest{Comment: "earned it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(workflow.LeaveApproved), decode[LeaveDTO](t, rec).Status)

	rec = ts.call(t, http.MethodGet, "/api/leaves/balance", "alice", nil)
	bal := decode[workflow.Balance](t, rec)
	assert.True(t, bal.Available(workflow.LeaveEarned).IsZero())
}

func TestWork_RecordRules(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.call(t, http.MethodPost, "/api/work", "alice",
		workflow.WorkFields{Kind: "DAY", Date: "2025-03-03", Hours: 6, Reason: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, workflow.CodeValidation, decode[ErrorResponse](t, rec).Code)

	rec = ts.call(t, http.MethodPost, "/api/work", "hod-cs",
		workflow.WorkFields{Kind: workflow.WorkCompensatory, Date: "2025-03-03", Hours: 8, Reason: "open day"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.call(t, http.MethodGet, "/api/work/queue", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.call(t, http.MethodPost, "/api/work/nope/approve", "hod-cs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.call(t, http.MethodGet, "/api/work", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredits_AccrueIsPrincipalOnlyAndIdempotent(t *testing.T) {
	// GIVEN: a staff member who joined two months ago
	// WHEN: the principal runs accrual twice
	// THEN: two months are credited once
	ts := setupTestServer(t)
	ctx := context.Background()

	now := time.Now().UTC()
	joined := time.Date(now.Year(), now.Month()-2, 15, 0, 0, 0, 0, time.UTC)
	_, err := ts.handler.Service.RegisterUser(ctx, workflow.User{
		ID: "emma", Username: "emma", Role: workflow.RoleStaff, Department: "CS", CreatedAt: joined,
	})
	require.NoError(t, err)
	token, err := ts.handler.Issuer.Issue(workflow.Session{UserID: "emma", Role: workflow.RoleStaff, Department: "CS"})
	require.NoError(t, err)
	ts.tokens["emma"] = token

	rec := ts.call(t, http.MethodPost, "/api/credits/accrue", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.call(t, http.MethodPost, "/api/credits/accrue", "principal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[AccrueResponse](t, rec).Credited)

	rec = ts.call(t, http.MethodPost, "/api/credits/accrue", "principal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[AccrueResponse](t, rec).Credited)

	rec = ts.call(t, http.MethodGet, "/api/leaves/balance", "emma", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[workflow.Balance](t, rec)
	assert.True(t, bal.Available(workflow.LeaveEarned).Equal(decimal.NewFromInt(4)), bal.Available(workflow.LeaveEarned).String())
}

func TestScheduler_AccruesEarnedLeave(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	_, err := h.Load(ctx, "school")
	require.NoError(t, err)
	_, err = h.Service.RegisterUser(ctx, workflow.User{
		ID: "emma", Username: "emma", Role: workflow.RoleStaff, Department: "CS",
		CreatedAt: lastMonth(),
	})
	require.NoError(t, err)

	es := NewExpiryScheduler(h.Service, nil)
	assert.Equal(t, 0, es.RunNow(ctx), "nothing to expire")
	assert.Equal(t, 1, es.Accrued())
	es.RunNow(ctx)
	assert.Equal(t, 1, es.Accrued())
}

// lastMonth is mid-month so month arithmetic never overflows.
func lastMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month()-1, 15, 0, 0, 0, 0, time.UTC)
}
