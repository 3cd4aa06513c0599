/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Authentication on protected routes
- Substitution handshake over HTTP (create, duplicate, respond)
- Leave submission, approval and balance deduction
- Error code and status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
)

type testServer struct {
	handler *Handler
	router  *chi.Mux
	tokens  map[string]string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := workflow.NewService(store, nil)
	h := NewHandler(svc, auth.NewIssuer("test-secret", time.Hour), nil)
	resp, err := h.Load(context.Background(), "school")
	require.NoError(t, err)

	return &testServer{handler: h, router: NewRouter(h, WithScenarios(true)), tokens: resp.Tokens}
}

func (ts *testServer) call(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		auth.SetBearer(req, ts.tokens[user])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func tomorrow() string {
	return time.Now().UTC().AddDate(0, 0, 1).Format(DateLayout)
}

func coverRequest() CreateSubstitutionRequest {
	return CreateSubstitutionRequest{
		RequestedTo: "jdoe",
		SubstitutionDetails: workflow.SubstitutionDetails{
			Date:   tomorrow(),
			Period: "Period 2",
			Time:   "09:00",
		},
	}
}

func casualLeave(substitutionID string) SubmitLeaveRequest {
	return SubmitLeaveRequest{
		LeaveType:      "CASUAL",
		StartDate:      tomorrow(),
		EndDate:        tomorrow(),
		Reason:         "Family function",
		SubstitutionID: substitutionID,
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestRoutes_Authentication(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.call(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.call(t, http.MethodGet, "/api/substitutions/sent", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.CodeUnauthenticated, decode[ErrorResponse](t, rec).Code)

	rec = ts.call(t, http.MethodGet, "/api/me", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[workflow.Session](t, rec)
	assert.Equal(t, workflow.Session{UserID: "alice", Role: workflow.RoleStaff, Department: "CS"}, me)
}

func TestRoutes_NoIssuerRejectsEverything(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	h := NewHandler(workflow.NewService(store, nil), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// HANDSHAKE OVER HTTP
// =============================================================================

func TestHandshake_EndToEnd(t *testing.T) {
	// GIVEN: the demo school
	ts := setupTestServer(t)

	// WHEN: alice searches and asks jdoe
	rec := ts.call(t, http.MethodGet, "/api/substitutions/candidates?q=JD", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]workflow.User](t, rec)
	require.Len(t, users, 1)
	assert.Equal(t, "jdoe", users[0].ID)

	rec = ts.call(t, http.MethodPost, "/api/substitutions", "alice", coverRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[workflow.Substitution](t, rec)
	assert.Equal(t, workflow.SubstitutionPending, sub.Status)
	assert.Equal(t, "jdoe", sub.RequestedToName)

	// THEN: a second request is refused while the first is pending
	rec = ts.call(t, http.MethodPost, "/api/substitutions", "alice", coverRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)
	er := decode[ErrorResponse](t, rec)
	assert.Equal(t, workflow.CodeDuplicatePending, er.Code)
	assert.Contains(t, er.Error, "jdoe")

	// Staff cannot file leave before the substitute answers.
	rec = ts.call(t, http.MethodPost, "/api/leaves", "alice", casualLeave(sub.ID))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.CodeSubstitutionNeeded, decode[ErrorResponse](t, rec).Code)

	// jdoe sees and accepts it, once.
	rec = ts.call(t, http.MethodGet, "/api/substitutions/received", "jdoe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]workflow.Substitution](t, rec), 1)

	rec = ts.call(t, http.MethodPost, "/api/substitutions/"+sub.ID+"/accept", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the addressee may respond")

	rec = ts.call(t, http.MethodPost, "/api/substitutions/"+sub.ID+"/accept", "jdoe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.SubstitutionAccepted, decode[workflow.Substitution](t, rec).Status)

	rec = ts.call(t, http.MethodPost, "/api/substitutions/"+sub.ID+"/reject", "jdoe", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.CodeNotPending, decode[ErrorResponse](t, rec).Code)

	rec = ts.call(t, http.MethodGet, "/api/substitutions/sent", "alice", nil)
	sent := decode[[]workflow.Substitution](t, rec)
	require.Len(t, sent, 1)
	assert.Equal(t, workflow.SubstitutionAccepted, sent[0].Status)

	// Leave goes to the HOD, who approves it.
	rec = ts.call(t, http.MethodPost, "/api/leaves", "alice", casualLeave(sub.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	leave := decode[LeaveDTO](t, rec)
	assert.Equal(t, string(workflow.LeavePending), leave.Status)
	assert.Equal(t, "Pending HOD approval", leave.StatusLabel)
	assert.Equal(t, "1", leave.Days)

	rec = ts.call(t, http.MethodGet, "/api/leaves/recent?since=10m", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LeaveDTO](t, rec), 1)

	rec = ts.call(t, http.MethodGet, "/api/leaves/queue", "hod-cs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[[]LeaveDTO](t, rec)
	require.Len(t, queue, 1)
	assert.Equal(t, leave.ID, queue[0].ID)

	rec = ts.call(t, http.MethodGet, "/api/leaves/queue", "hod-ee", nil)
	assert.Empty(t, decode[[]LeaveDTO](t, rec), "other department")

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/approve", "hod-cs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[LeaveDTO](t, rec)
	assert.Equal(t, string(workflow.LeaveApproved), decided.Status)
	assert.Equal(t, "hod-cs", decided.DecidedBy)
	assert.NotNil(t, decided.DecidedAt)

	rec = ts.call(t, http.MethodGet, "/api/leaves/balance", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[workflow.Balance](t, rec)
	assert.True(t, decimal.NewFromInt(11).Equal(bal.Available(workflow.LeaveCasual)), bal.Available(workflow.LeaveCasual).String())

	// Terminal: the author can no longer cancel.
	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)
}

func TestLeaves_HODRoutesToPrincipal(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.call(t, http.MethodPost, "/api/leaves", "hod-cs", casualLeave(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	leave := decode[LeaveDTO](t, rec)
	assert.Equal(t, string(workflow.LeavePendingPrincipal), leave.Status)

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/approve", "hod-cs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "an HOD cannot decide PENDING_PRINCIPAL")
	assert.Equal(t, workflow.CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/approve", "hod-ee", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "other department")

	rec = ts.call(t, http.MethodPost, "/api/leaves/"+leave.ID+"/reject", "principal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(workflow.LeaveRejected), decode[LeaveDTO](t, rec).Status)

	rec = ts.call(t, http.MethodPost, "/api/leaves", "principal", casualLeave(""))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.CodeNoApprover, decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrors_StatusAndCode(t *testing.T) {
	ts := setupTestServer(t)

	badDate := coverRequest()
	badDate.Date = "01/03/2025"
	badLeave := casualLeave("")
	badLeave.StartDate = "tomorrow"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"empty search", http.MethodGet, "/api/substitutions/candidates?q=", "alice", nil, http.StatusBadRequest, workflow.CodeValidation},
		{"bad session date", http.MethodPost, "/api/substitutions", "alice", badDate, http.StatusBadRequest, workflow.CodeValidation},
		{"bad leave date", http.MethodPost, "/api/leaves", "hod-cs", badLeave, http.StatusBadRequest, workflow.CodeValidation},
		{"self substitution", http.MethodPost, "/api/substitutions", "jdoe", coverRequest(), http.StatusForbidden, workflow.CodeForbidden},
		{"other department", http.MethodPost, "/api/substitutions", "dave", coverRequest(), http.StatusForbidden, workflow.CodeForbidden},
		{"unknown request", http.MethodPost, "/api/substitutions/nope/accept", "jdoe", nil, http.StatusNotFound, workflow.CodeNotFound},
		{"staff queue", http.MethodGet, "/api/leaves/queue", "alice", nil, http.StatusForbidden, workflow.CodeForbidden},
		{"no substitution", http.MethodPost, "/api/leaves", "alice", casualLeave(""), http.StatusConflict, workflow.CodeSubstitutionNeeded},
		{"bad since", http.MethodGet, "/api/leaves/recent?since=soon", "alice", nil, http.StatusBadRequest, workflow.CodeValidation},
		{"garbage body", http.MethodPost, "/api/leaves", "alice", "not an object", http.StatusBadRequest, workflow.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.call(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			er := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, er.Code)
			assert.NotEmpty(t, er.Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(""))
	assert.Equal(t, http.StatusBadRequest, StatusFor(workflow.CodeValidation))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(auth.CodeUnauthenticated))
	assert.Equal(t, http.StatusForbidden, StatusFor(workflow.CodeForbidden))
	assert.Equal(t, http.StatusNotFound, StatusFor(workflow.CodeNotFound))
	for _, code := range []string{
		workflow.CodeDuplicatePending, workflow.CodeNotPending, workflow.CodeSubstitutionNeeded,
		workflow.CodeQuotaExceeded, workflow.CodeInsufficientBalance, workflow.CodeNoApprover,
		workflow.CodeInvalidTransition, workflow.CodeConflict,
	} {
		assert.Equal(t, http.StatusConflict, StatusFor(code), code)
	}
}

func TestLeaveDTO_RoundTrip(t *testing.T) {
	decidedAt := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	in := workflow.LeaveRequest{
		ID:         "l1",
		UserID:     "alice",
		AuthorRole: workflow.RoleStaff,
		Department: "CS",
		LeaveFields: workflow.LeaveFields{
			LeaveType: workflow.LeaveCustom,
			StartDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			Reason:    "bank",
			IsHourly:  true,
			Hours:     1,
		},
		SubstitutionID: "s1",
		Status:         workflow.LeaveApproved,
		DecidedBy:      "hod-cs",
		DecidedAt:      &decidedAt,
		CreatedAt:      time.Date(2025, 3, 1, 9, 0, 0, 123, time.UTC),
		UpdatedAt:      decidedAt,
	}

	dto := ToLeaveDTO(in)
	assert.Equal(t, "0.125", dto.Days)
	assert.Equal(t, "2025-03-03", dto.StartDate)

	out, err := dto.Leave()
	require.NoError(t, err)
	assert.Equal(t, in.LeaveFields, out.LeaveFields)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.NotNil(t, out.DecidedAt)
	assert.True(t, decidedAt.Equal(*out.DecidedAt))
	assert.Equal(t, in.Status, out.Status)
}
