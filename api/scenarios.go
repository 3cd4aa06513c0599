/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a small
	school: a principal, two departments with their HODs, and staff. Each
	scenario leaves the handshake or the approval chain at a specific
	point so a client can be started against it.

AVAILABLE SCENARIOS:

	school:              Roster only, nothing in flight
	awaiting-substitute: alice has a PENDING request to jdoe for tomorrow
	ready-to-file:       jdoe accepted alice's request, leave not filed yet
	approval-chain:      alice's leave waits for the HOD, the HOD's for the Principal
	stale-request:       alice's PENDING request is for yesterday (expiry demo)

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register the roster with default balances
 3. Drive the service as the relevant users
 4. Mint a bearer token per user when the server has a signing key

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "ready-to-file"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "school",
		Name:        "School",
		Description: "Principal, CS and EE departments with HODs and staff; nothing in flight",
	},
	{
		ID:          "awaiting-substitute",
		Name:        "Awaiting Substitute",
		Description: "alice asked jdoe to cover Period 2 tomorrow; jdoe has not answered",
	},
	{
		ID:          "ready-to-file",
		Name:        "Ready To File",
		Description: "jdoe accepted alice's request; alice can submit her leave",
	},
	{
		ID:          "approval-chain",
		Name:        "Approval Chain",
		Description: "alice's casual leave waits for the CS HOD, the HOD's own leave waits for the Principal",
	},
	{
		ID:          "stale-request",
		Name:        "Stale Request",
		Description: "alice's pending request is for yesterday and will be expired",
	},
}

// roster is the school every scenario starts from.
var roster = []workflow.User{
	{ID: "principal", Username: "principal", Email: "principal@school.test", Name: "Grace Hopper", Role: workflow.RolePrincipal, Gender: workflow.GenderFemale},
	{ID: "hod-cs", Username: "hod_cs", Email: "hod.cs@school.test", Name: "Alan Turing", Role: workflow.RoleHOD, Department: "CS", Gender: workflow.GenderMale},
	{ID: "hod-ee", Username: "hod_ee", Email: "hod.ee@school.test", Name: "Hedy Lamarr", Role: workflow.RoleHOD, Department: "EE", Gender: workflow.GenderFemale},
	{ID: "alice", Username: "alice", Email: "alice@school.test", Name: "Alice Liddell", Role: workflow.RoleStaff, Department: "CS", Gender: workflow.GenderFemale},
	{ID: "jdoe", Username: "jdoe", Email: "john.doe@school.test", Name: "John Doe", Role: workflow.RoleStaff, Department: "CS", Gender: workflow.GenderMale},
	{ID: "jane", Username: "jane", Email: "jane.roe@school.test", Name: "Jane Roe", Role: workflow.RoleStaff, Department: "CS", Gender: workflow.GenderFemale},
	{ID: "dave", Username: "dave", Email: "dave@school.test", Name: "Dave Null", Role: workflow.RoleStaff, Department: "EE", Gender: workflow.GenderMale},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resp, err := h.Load(r.Context(), req.ScenarioID)
	if err != nil {
		if workflow.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetStore clears every record.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Load resets the store and loads scenario id.
func (h *Handler) Load(ctx context.Context, id string) (*LoadScenarioResponse, error) {
	var loader func(context.Context) error
	switch id {
	case "school":
		loader = func(context.Context) error { return nil }
	case "awaiting-substitute":
		loader = h.loadAwaitingSubstituteScenario
	case "ready-to-file":
		loader = h.loadReadyToFileScenario
	case "approval-chain":
		loader = h.loadApprovalChainScenario
	case "stale-request":
		loader = h.loadStaleRequestScenario
	default:
		return nil, &workflow.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	if err := h.reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset store: %w", err)
	}
	if err := h.loadRoster(ctx); err != nil {
		return nil, err
	}
	if err := loader(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	resp := &LoadScenarioResponse{Status: "loaded", Scenario: id, Users: append([]workflow.User(nil), roster...)}
	if h.Issuer != nil {
		resp.Tokens = make(map[string]string, len(roster))
		for _, u := range roster {
			token, err := h.Issuer.Issue(sessionOf(u))
			if err != nil {
				return nil, err
			}
			resp.Tokens[u.ID] = token
		}
	}
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return resp, nil
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Service.Store.(workflow.Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadRoster(ctx context.Context) error {
	for _, u := range roster {
		if _, err := h.Service.RegisterUser(ctx, u); err != nil {
			return fmt.Errorf("failed to register %s: %w", u.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadAwaitingSubstituteScenario(ctx context.Context) error {
	_, err := h.requestCover(ctx, h.day(1))
	return err
}

func (h *Handler) loadReadyToFileScenario(ctx context.Context) error {
	sub, err := h.requestCover(ctx, h.day(1))
	if err != nil {
		return err
	}
	_, err = h.Service.Respond(ctx, sessionOf(roster[4]), sub.ID, workflow.DecisionAccept)
	return err
}

func (h *Handler) loadApprovalChainScenario(ctx context.Context) error {
	if err := h.loadReadyToFileScenario(ctx); err != nil {
		return err
	}
	subs, err := h.Service.SentSubstitutions(ctx, sessionOf(roster[3]))
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("accepted substitution missing")
	}

	tomorrow := h.date(1)
	_, err = h.Service.SubmitLeave(ctx, sessionOf(roster[3]), workflow.LeaveFields{
		LeaveType: workflow.LeaveCasual,
		StartDate: tomorrow,
		EndDate:   tomorrow,
		Reason:    "Family function",
	}, subs[0].ID)
	if err != nil {
		return err
	}

	nextWeek := h.date(7)
	_, err = h.Service.SubmitLeave(ctx, sessionOf(roster[1]), workflow.LeaveFields{
		LeaveType: workflow.LeaveMedical,
		StartDate: nextWeek,
		EndDate:   nextWeek.AddDate(0, 0, 1),
		Reason:    "Medical appointment",
	}, "")
	return err
}

func (h *Handler) loadStaleRequestScenario(ctx context.Context) error {
	_, err := h.requestCover(ctx, h.day(-1))
	return err
}

// requestCover has alice ask jdoe to cover Period 2 on date.
func (h *Handler) requestCover(ctx context.Context, date string) (*workflow.Substitution, error) {
	return h.Service.CreateSubstitution(ctx, sessionOf(roster[3]), workflow.SubstitutionDetails{
		Date:       date,
		Period:     "Period 2",
		Time:       "09:00",
		ClassLabel: "CS-2A",
		Message:    "Can you take my class?",
	}, roster[4].ID)
}

// date is midnight UTC offset days from today.
func (h *Handler) date(offset int) time.Time {
	now := h.Service.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+offset, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) day(offset int) string {
	return h.date(offset).Format(DateLayout)
}

func sessionOf(u workflow.User) workflow.Session {
	return workflow.Session{UserID: u.ID, Role: u.Role, Department: u.Department}
}

// ScenarioUser returns the roster entry with id.
func ScenarioUser(id string) (workflow.User, bool) {
	for _, u := range roster {
		if u.ID == id {
			return u, true
		}
	}
	return workflow.User{}, false
}

// ScenarioSession returns the session of roster user id.
func ScenarioSession(id string) (workflow.Session, bool) {
	u, ok := ScenarioUser(id)
	if !ok {
		return workflow.Session{}, false
	}
	return sessionOf(u), true
}
