/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Users, substitutions
  and balances travel as their workflow types; leave requests get a DTO so
  dates stay plain YYYY-MM-DD on the wire.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Substitution:
    CreateSubstitutionRequest

  Leave:
    SubmitLeaveRequest, LeaveDTO, DecideLeaveRequest

  Credits:
    AccrueResponse (work records and credits travel as workflow types)

  Scenarios:
    ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Field validation lives in workflow; DTO conversion only parses dates.

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Sends and decodes the same types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/workflow"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

// CreateSubstitutionRequest is the body of POST /api/substitutions.
type CreateSubstitutionRequest struct {
	RequestedTo string `json:"requested_to"`
	workflow.SubstitutionDetails
}

// =============================================================================
// LEAVES
// =============================================================================

// SubmitLeaveRequest is the body of POST /api/leaves.
type SubmitLeaveRequest struct {
	LeaveType      string `json:"leave_type"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Reason         string `json:"reason"`
	IsHourly       bool   `json:"is_hourly"`
	Hours          int    `json:"hours,omitempty"`
	SubstitutionID string `json:"substitution_id,omitempty"`
}

// NewSubmitLeaveRequest builds the request body for fields.
func NewSubmitLeaveRequest(fields workflow.LeaveFields, substitutionID string) SubmitLeaveRequest {
	return SubmitLeaveRequest{
		LeaveType:      string(fields.LeaveType),
		StartDate:      fields.StartDate.Format(DateLayout),
		EndDate:        fields.EndDate.Format(DateLayout),
		Reason:         fields.Reason,
		IsHourly:       fields.IsHourly,
		Hours:          fields.Hours,
		SubstitutionID: substitutionID,
	}
}

// Fields parses the request into leave fields.
func (r SubmitLeaveRequest) Fields() (workflow.LeaveFields, error) {
	lt, err := workflow.ParseLeaveType(r.LeaveType)
	if err != nil {
		return workflow.LeaveFields{}, err
	}
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return workflow.LeaveFields{}, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return workflow.LeaveFields{}, err
	}
	return workflow.LeaveFields{
		LeaveType: lt,
		StartDate: start,
		EndDate:   end,
		Reason:    r.Reason,
		IsHourly:  r.IsHourly,
		Hours:     r.Hours,
	}, nil
}

// LeaveDTO represents a leave request in API responses.
type LeaveDTO struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	AuthorRole     string  `json:"author_role"`
	Department     string  `json:"department,omitempty"`
	LeaveType      string  `json:"leave_type"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	Reason         string  `json:"reason"`
	IsHourly       bool    `json:"is_hourly"`
	Hours          int     `json:"hours,omitempty"`
	Days           string  `json:"days"`
	SubstitutionID string  `json:"substitution_id,omitempty"`
	Status         string  `json:"status"`
	StatusLabel    string  `json:"status_label"`
	DecidedBy      string  `json:"decided_by,omitempty"`
	DecidedAt      *string `json:"decided_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// ToLeaveDTO converts a leave for the wire.
func ToLeaveDTO(l workflow.LeaveRequest) LeaveDTO {
	dto := LeaveDTO{
		ID:             l.ID,
		UserID:         l.UserID,
		AuthorRole:     string(l.AuthorRole),
		Department:     l.Department,
		LeaveType:      string(l.LeaveType),
		StartDate:      l.StartDate.Format(DateLayout),
		EndDate:        l.EndDate.Format(DateLayout),
		Reason:         l.Reason,
		IsHourly:       l.IsHourly,
		Hours:          l.Hours,
		Days:           l.Duration().String(),
		SubstitutionID: l.SubstitutionID,
		Status:         string(l.Status),
		StatusLabel:    l.Status.Label(),
		DecidedBy:      l.DecidedBy,
		CreatedAt:      l.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      l.UpdatedAt.Format(time.RFC3339Nano),
	}
	if l.DecidedAt != nil {
		dto.DecidedAt = strPtr(l.DecidedAt.Format(time.RFC3339Nano))
	}
	return dto
}

// ToLeaveDTOs converts a list, never returning nil.
func ToLeaveDTOs(leaves []workflow.LeaveRequest) []LeaveDTO {
	dtos := make([]LeaveDTO, len(leaves))
	for i, l := range leaves {
		dtos[i] = ToLeaveDTO(l)
	}
	return dtos
}

// Leave converts the DTO back into a leave request.
func (d LeaveDTO) Leave() (workflow.LeaveRequest, error) {
	lt, err := workflow.ParseLeaveType(d.LeaveType)
	if err != nil {
		return workflow.LeaveRequest{}, err
	}
	status, err := workflow.ParseLeaveStatus(d.Status)
	if err != nil {
		return workflow.LeaveRequest{}, err
	}
	start, err := parseDate("start_date", d.StartDate)
	if err != nil {
		return workflow.LeaveRequest{}, err
	}
	end, err := parseDate("end_date", d.EndDate)
	if err != nil {
		return workflow.LeaveRequest{}, err
	}

	l := workflow.LeaveRequest{
		ID:         d.ID,
		UserID:     d.UserID,
		AuthorRole: workflow.Role(d.AuthorRole),
		Department: d.Department,
		LeaveFields: workflow.LeaveFields{
			LeaveType: lt,
			StartDate: start,
			EndDate:   end,
			Reason:    d.Reason,
			IsHourly:  d.IsHourly,
			Hours:     d.Hours,
		},
		SubstitutionID: d.SubstitutionID,
		Status:         status,
		DecidedBy:      d.DecidedBy,
	}
	// Timestamps are informational; a malformed one is left zero.
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, d.CreatedAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, d.UpdatedAt)
	if d.DecidedAt != nil {
		if at, err := time.Parse(time.RFC3339Nano, *d.DecidedAt); err == nil {
			l.DecidedAt = &at
		}
	}
	return l, nil
}

// DecideLeaveRequest is the optional body of POST /api/leaves/{id}/approve
// and /reject.
type DecideLeaveRequest struct {
	Comment string `json:"comment,omitempty"`
}

// =============================================================================
// CREDITS
// =============================================================================

// AccrueResponse is returned by POST /api/credits/accrue.
type AccrueResponse struct {
	Credited int `json:"credited"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists the loaded users and, when the server can
// sign them, a bearer token per user id.
type LoadScenarioResponse struct {
	Status   string            `json:"status"`
	Scenario string            `json:"scenario"`
	Users    []workflow.User   `json:"users"`
	Tokens   map[string]string `json:"tokens,omitempty"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &workflow.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return t, nil
}

func strPtr(s string) *string {
	return &s
}
