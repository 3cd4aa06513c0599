/*
handlers.go - HTTP API handlers for the leave workflow

PURPOSE:
  Exposes workflow.Service over REST so client engines on other machines
  can run the substitution handshake and file leave. Handles HTTP
  request/response, JSON serialization, and delegates to the service.

ENDPOINTS:
  Substitutions:
    GET    /api/substitutions/candidates?q=  Search substitute candidates
    POST   /api/substitutions                Create a substitution request
    GET    /api/substitutions/sent           Caller's outgoing requests
    GET    /api/substitutions/received       Pending requests for the caller
    POST   /api/substitutions/{id}/accept    Accept as the substitute
    POST   /api/substitutions/{id}/reject    Decline as the substitute

  Leaves:
    POST   /api/leaves                       Submit a leave request
    GET    /api/leaves/recent?since=1h       Caller's recent leaves
    GET    /api/leaves/queue                 Approver queue
    POST   /api/leaves/{id}/approve          Approve (HOD / Principal)
    POST   /api/leaves/{id}/reject           Reject (HOD / Principal)
    POST   /api/leaves/{id}/cancel           Cancel (author)
    GET    /api/leaves/{id}/history          Decisions with approver comments
    GET    /api/leaves/balance               Caller's balances

  Work and credits:
    POST   /api/work                         Record night or compensatory work
    GET    /api/work                         Caller's work records
    GET    /api/work/queue                   HOD's pending work records
    POST   /api/work/{id}/approve            Approve and credit (HOD)
    POST   /api/work/{id}/reject             Reject (HOD)
    GET    /api/credits                      Caller's credit ledger
    POST   /api/credits/accrue               Run earned accrual (Principal)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: Business rules and persistence
  - Issuer: Token signing for demo scenarios
  The acting session always comes from the bearer token.

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid token (auth middleware)
  - 403: Forbidden for this session
  - 404: Resource not found
  - 409: Business rule violation (duplicate, not pending, quota, ...)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/workflow"
)

// DefaultRecentWindow is used when GET /api/leaves/recent has no since.
const DefaultRecentWindow = time.Hour

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *workflow.Service
	Issuer  *auth.Issuer
	Logger  *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. issuer may be nil, in which case
// scenario loads return no tokens.
func NewHandler(svc *workflow.Service, issuer *auth.Issuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service: svc,
		Issuer:  issuer,
		Logger:  logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the caller's session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// =============================================================================
// SUBSTITUTION HANDLERS
// =============================================================================

// SearchCandidates lists staff in the caller's department matching q.
func (h *Handler) SearchCandidates(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	users, err := h.Service.SearchCandidates(r.Context(), session, r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to search candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateSubstitution opens a substitution request.
func (h *Handler) CreateSubstitution(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req CreateSubstitutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, err := h.Service.CreateSubstitution(r.Context(), session, req.SubstitutionDetails, req.RequestedTo)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create substitution request", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSent lists the caller's outgoing substitution requests.
func (h *Handler) ListSent(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	subs, err := h.Service.SentSubstitutions(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list substitution requests", err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// ListReceived lists pending requests addressed to the caller.
func (h *Handler) ListReceived(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	subs, err := h.Service.ReceivedSubstitutions(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list substitution requests", err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// AcceptSubstitution records the caller's acceptance.
func (h *Handler) AcceptSubstitution(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, workflow.DecisionAccept)
}

// RejectSubstitution records the caller's refusal.
func (h *Handler) RejectSubstitution(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, workflow.DecisionReject)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, decision workflow.Decision) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	sub, err := h.Service.Respond(r.Context(), session, chi.URLParam(r, "id"), decision)
	if err != nil {
		h.writeServiceError(w, r, "Failed to respond to substitution request", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// SubmitLeave files a leave request for the caller.
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SubmitLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	fields, err := req.Fields()
	if err != nil {
		h.writeServiceError(w, r, "Invalid leave request", err)
		return
	}

	leave, err := h.Service.SubmitLeave(r.Context(), session, fields, req.SubstitutionID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to submit leave request", err)
		return
	}
	writeJSON(w, http.StatusCreated, ToLeaveDTO(*leave))
}

// RecentLeaves lists the caller's leaves created within since.
func (h *Handler) RecentLeaves(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	since := DefaultRecentWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (use a duration like 1h)", err)
			return
		}
		since = d
	}

	leaves, err := h.Service.RecentLeaves(r.Context(), session, since)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list leave requests", err)
		return
	}
	writeJSON(w, http.StatusOK, ToLeaveDTOs(leaves))
}

// Queue lists the leaves awaiting the caller's decision.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	leaves, err := h.Service.ApproverQueue(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list approval queue", err)
		return
	}
	writeJSON(w, http.StatusOK, ToLeaveDTOs(leaves))
}

// ApproveLeave approves a leave as HOD or Principal.
func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectLeave rejects a leave as HOD or Principal.
func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

// decide reads an optional {"comment": ...} body; an empty body is fine.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req DecideLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	leave, err := h.Service.Decide(r.Context(), session, chi.URLParam(r, "id"), approve, req.Comment)
	if err != nil {
		h.writeServiceError(w, r, "Failed to decide leave request", err)
		return
	}
	writeJSON(w, http.StatusOK, ToLeaveDTO(*leave))
}

// CancelLeave withdraws the caller's own leave.
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	leave, err := h.Service.Cancel(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to cancel leave request", err)
		return
	}
	writeJSON(w, http.StatusOK, ToLeaveDTO(*leave))
}

// LeaveHistory lists the decisions taken on a leave, oldest first.
func (h *Handler) LeaveHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	actions, err := h.Service.LeaveActions(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get leave history", err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// GetBalance returns the caller's leave balances.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	bal, err := h.Service.BalanceFor(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// =============================================================================
// WORK AND CREDIT HANDLERS
// =============================================================================

// RecordWork stores night or compensatory work for the HOD to decide.
func (h *Handler) RecordWork(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req workflow.WorkFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.RecordWork(r.Context(), session, req)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record work", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListWork lists the caller's work records.
func (h *Handler) ListWork(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	recs, err := h.Service.WorkRecords(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list work records", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// WorkQueue lists work records awaiting the caller's decision.
func (h *Handler) WorkQueue(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	recs, err := h.Service.WorkQueue(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list work queue", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// ApproveWork approves a work record and credits the leave it earns.
func (h *Handler) ApproveWork(w http.ResponseWriter, r *http.Request) {
	h.decideWork(w, r, true)
}

// RejectWork rejects a work record.
func (h *Handler) RejectWork(w http.ResponseWriter, r *http.Request) {
	h.decideWork(w, r, false)
}

func (h *Handler) decideWork(w http.ResponseWriter, r *http.Request, approve bool) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	rec, err := h.Service.DecideWork(r.Context(), session, chi.URLParam(r, "id"), approve)
	if err != nil {
		h.writeServiceError(w, r, "Failed to decide work record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListCredits returns the caller's credit ledger.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	credits, err := h.Service.Credits(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list credits", err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// Accrue runs earned accrual now instead of waiting for the scheduler.
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.AccrueEarned(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to accrue earned leave", err)
		return
	}
	writeJSON(w, http.StatusOK, AccrueResponse{Credited: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (workflow.Session, bool) {
	session, ok := auth.SessionFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Code: auth.CodeUnauthenticated})
		return workflow.Session{}, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusBadRequest {
		resp.Code = workflow.CodeValidation
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a workflow error onto a status and a coded body.
// Coded errors carry their own reason as the message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	code := workflow.CodeFor(err)
	status := StatusFor(code)

	resp := ErrorResponse{Error: message, Code: code}
	var rule *workflow.RuleError
	switch {
	case errors.As(err, &rule):
		resp.Error = rule.Reason
	case code != "":
		resp.Error = err.Error()
	default:
		resp.Details = err.Error()
		h.Logger.Error(message,
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusInternalServerError
	case workflow.CodeValidation:
		return http.StatusBadRequest
	case auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case workflow.CodeForbidden:
		return http.StatusForbidden
	case workflow.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}
