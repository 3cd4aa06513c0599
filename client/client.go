/*
client.go - HTTP implementation of the engine's remote system

PURPOSE:
  Implements handshake.Remote and handshake.Responder against the api
  package's REST surface, plus the approver and inbox calls the CLI needs.
  One Client acts for the session encoded in its bearer token.

ERROR MAPPING:
  2xx                    decoded into the result
  4xx                    *workflow.RemoteRejection{Code, Reason, Status}
  5xx, transport errors  *workflow.TransientNetworkError

  Read-only calls are retried a few times on transient failures with a
  short exponential backoff. State-changing calls are never retried here;
  the engine decides what to do with a transient failure.

SEE ALSO:
  - api/handlers.go: Server side of every call
  - handshake/remote.go: The contracts implemented here
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/workflow"
)

// Client talks to one leave server as one session.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	logger    *zap.Logger
	retries   uint64
	retryBase time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetries sets how many times read-only calls are retried on transient
// failures, and the first backoff delay.
func WithRetries(n uint64, base time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryBase = base
	}
}

// New creates a client for baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		http:      &http.Client{Timeout: 15 * time.Second},
		retries:   2,
		retryBase: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// =============================================================================
// HANDSHAKE CONTRACTS
// =============================================================================

// SearchSubstituteCandidates implements handshake.Remote. department is
// implied by the session on the server side.
func (c *Client) SearchSubstituteCandidates(ctx context.Context, query, _ string) ([]workflow.User, error) {
	var users []workflow.User
	path := "/api/substitutions/candidates?q=" + url.QueryEscape(query)
	if err := c.get(ctx, "search candidates", path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateSubstitutionRequest implements handshake.Remote.
func (c *Client) CreateSubstitutionRequest(ctx context.Context, details workflow.SubstitutionDetails, candidateID string) (*workflow.Substitution, error) {
	var sub workflow.Substitution
	body := api.CreateSubstitutionRequest{RequestedTo: candidateID, SubstitutionDetails: details}
	if err := c.do(ctx, "create substitution", http.MethodPost, "/api/substitutions", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListOutgoingSubstitutionRequests implements handshake.Remote. The server
// only ever lists the token's own requests.
func (c *Client) ListOutgoingSubstitutionRequests(ctx context.Context, _ string) ([]workflow.Substitution, error) {
	var subs []workflow.Substitution
	if err := c.get(ctx, "list substitutions", "/api/substitutions/sent", &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ListRecentLeaveRequests implements handshake.Remote.
func (c *Client) ListRecentLeaveRequests(ctx context.Context, _ string, since time.Duration) ([]workflow.LeaveRequest, error) {
	var dtos []api.LeaveDTO
	path := "/api/leaves/recent?since=" + url.QueryEscape(since.String())
	if err := c.get(ctx, "list leaves", path, &dtos); err != nil {
		return nil, err
	}
	return fromLeaveDTOs("list leaves", dtos)
}

// SubmitLeaveRequest implements handshake.Remote.
func (c *Client) SubmitLeaveRequest(ctx context.Context, fields workflow.LeaveFields, substitutionID string) (*workflow.LeaveRequest, error) {
	var dto api.LeaveDTO
	body := api.NewSubmitLeaveRequest(fields, substitutionID)
	if err := c.do(ctx, "submit leave", http.MethodPost, "/api/leaves", body, &dto); err != nil {
		return nil, err
	}
	return fromLeaveDTO("submit leave", dto)
}

// RespondToSubstitutionRequest implements handshake.Responder.
func (c *Client) RespondToSubstitutionRequest(ctx context.Context, id string, decision workflow.Decision) (*workflow.Substitution, error) {
	if _, err := workflow.ParseDecision(string(decision)); err != nil {
		return nil, err
	}
	var sub workflow.Substitution
	path := "/api/substitutions/" + url.PathEscape(id) + "/" + string(decision)
	if err := c.do(ctx, "respond", http.MethodPost, path, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// =============================================================================
// INBOX AND APPROVALS
// =============================================================================

// Me returns the session the server sees for this client's token.
func (c *Client) Me(ctx context.Context) (workflow.Session, error) {
	var s workflow.Session
	err := c.get(ctx, "who am i", "/api/me", &s)
	return s, err
}

// ReceivedSubstitutionRequests lists pending requests addressed to the caller.
func (c *Client) ReceivedSubstitutionRequests(ctx context.Context) ([]workflow.Substitution, error) {
	var subs []workflow.Substitution
	if err := c.get(ctx, "list received", "/api/substitutions/received", &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ApprovalQueue lists the leaves awaiting the caller's decision.
func (c *Client) ApprovalQueue(ctx context.Context) ([]workflow.LeaveRequest, error) {
	var dtos []api.LeaveDTO
	if err := c.get(ctx, "list queue", "/api/leaves/queue", &dtos); err != nil {
		return nil, err
	}
	return fromLeaveDTOs("list queue", dtos)
}

// DecideLeave approves or rejects a leave. comment may be empty.
func (c *Client) DecideLeave(ctx context.Context, id string, approve bool, comment string) (*workflow.LeaveRequest, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	var in any
	if comment != "" {
		in = api.DecideLeaveRequest{Comment: comment}
	}
	return c.leaveAction(ctx, "decide leave", id, action, in)
}

// CancelLeave withdraws the caller's own leave.
func (c *Client) CancelLeave(ctx context.Context, id string) (*workflow.LeaveRequest, error) {
	return c.leaveAction(ctx, "cancel leave", id, "cancel", nil)
}

// LeaveHistory lists the decisions taken on a leave, oldest first.
func (c *Client) LeaveHistory(ctx context.Context, id string) ([]workflow.LeaveAction, error) {
	var actions []workflow.LeaveAction
	if err := c.get(ctx, "leave history", "/api/leaves/"+url.PathEscape(id)+"/history", &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// Balance returns the caller's leave balances.
func (c *Client) Balance(ctx context.Context) (*workflow.Balance, error) {
	var bal workflow.Balance
	if err := c.get(ctx, "get balance", "/api/leaves/balance", &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// =============================================================================
// WORK AND CREDITS
// =============================================================================

// RecordWork files night or compensatory work for the HOD to decide.
func (c *Client) RecordWork(ctx context.Context, fields workflow.WorkFields) (*workflow.WorkRecord, error) {
	var rec workflow.WorkRecord
	if err := c.do(ctx, "record work", http.MethodPost, "/api/work", fields, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// WorkRecords lists the caller's work records.
func (c *Client) WorkRecords(ctx context.Context) ([]workflow.WorkRecord, error) {
	var recs []workflow.WorkRecord
	if err := c.get(ctx, "list work", "/api/work", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// WorkQueue lists the work records awaiting the caller's decision.
func (c *Client) WorkQueue(ctx context.Context) ([]workflow.WorkRecord, error) {
	var recs []workflow.WorkRecord
	if err := c.get(ctx, "list work queue", "/api/work/queue", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// DecideWork approves or rejects a work record.
func (c *Client) DecideWork(ctx context.Context, id string, approve bool) (*workflow.WorkRecord, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	var rec workflow.WorkRecord
	path := "/api/work/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, "decide work", http.MethodPost, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Credits lists the caller's credit ledger, oldest first.
func (c *Client) Credits(ctx context.Context) ([]workflow.Credit, error) {
	var credits []workflow.Credit
	if err := c.get(ctx, "list credits", "/api/credits", &credits); err != nil {
		return nil, err
	}
	return credits, nil
}

// Accrue runs earned accrual on the server and returns the credits applied.
func (c *Client) Accrue(ctx context.Context) (int, error) {
	var resp api.AccrueResponse
	if err := c.do(ctx, "accrue", http.MethodPost, "/api/credits/accrue", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Credited, nil
}

// LoadScenario resets the server to a demo scenario.
func (c *Client) LoadScenario(ctx context.Context, id string) (*api.LoadScenarioResponse, error) {
	var resp api.LoadScenarioResponse
	if err := c.do(ctx, "load scenario", http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) leaveAction(ctx context.Context, op, id, action string, in any) (*workflow.LeaveRequest, error) {
	var dto api.LeaveDTO
	path := "/api/leaves/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, op, http.MethodPost, path, in, &dto); err != nil {
		return nil, err
	}
	return fromLeaveDTO(op, dto)
}

// =============================================================================
// TRANSPORT
// =============================================================================

// get performs a read-only call, retrying transient failures.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	if c.retries == 0 {
		return c.do(ctx, op, http.MethodGet, path, nil, out)
	}
	b := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.do(ctx, op, http.MethodGet, path, nil, out)
		if workflow.IsTransient(err) && ctx.Err() == nil {
			c.logger.Debug("retrying read", zap.String("op", op), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		auth.SetBearer(req, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &workflow.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &workflow.TransientNetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// decodeError turns an error response into a rejection (4xx) or a
// transient failure (5xx).
func decodeError(op string, resp *http.Response) error {
	var er api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		er.Error = strings.TrimSpace(string(raw))
		if er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
	}

	if resp.StatusCode >= 500 {
		return &workflow.TransientNetworkError{
			Op:  op,
			Err: fmt.Errorf("server error %d: %s", resp.StatusCode, er.Error),
		}
	}

	code := er.Code
	if code == "" {
		code = codeForStatus(resp.StatusCode)
	}
	return &workflow.RemoteRejection{Op: op, Code: code, Reason: er.Error, Status: resp.StatusCode}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return workflow.CodeValidation
	case http.StatusUnauthorized:
		return auth.CodeUnauthenticated
	case http.StatusForbidden:
		return workflow.CodeForbidden
	case http.StatusNotFound:
		return workflow.CodeNotFound
	case http.StatusConflict:
		return workflow.CodeConflict
	}
	return ""
}

func fromLeaveDTO(op string, dto api.LeaveDTO) (*workflow.LeaveRequest, error) {
	l, err := dto.Leave()
	if err != nil {
		return nil, &workflow.TransientNetworkError{Op: op, Err: fmt.Errorf("malformed leave in response: %w", err)}
	}
	return &l, nil
}

func fromLeaveDTOs(op string, dtos []api.LeaveDTO) ([]workflow.LeaveRequest, error) {
	leaves := make([]workflow.LeaveRequest, 0, len(dtos))
	for _, d := range dtos {
		l, err := fromLeaveDTO(op, d)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, *l)
	}
	return leaves, nil
}

// IsUnauthenticated reports whether err is a 401 from the server.
func IsUnauthenticated(err error) bool {
	var re *workflow.RemoteRejection
	return errors.As(err, &re) && re.Code == auth.CodeUnauthenticated
}
