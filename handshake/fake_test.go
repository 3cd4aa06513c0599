package handshake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/leave-engine/workflow"
)

// fakeRemote is a scriptable Remote that counts calls.
type fakeRemote struct {
	mu sync.Mutex

	candidates []workflow.User
	searchErr  error

	createErr error
	created   *workflow.Substitution

	// list answers the n-th (1-based) outgoing list call.
	list func(ctx context.Context, n int) ([]workflow.Substitution, error)

	recent    []workflow.LeaveRequest
	recentErr error

	submitErr   error
	submitState workflow.LeaveStatus
	submitted   []string // substitution ids passed to SubmitLeaveRequest

	calls map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		calls:       make(map[string]int),
		submitState: workflow.LeavePending,
	}
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) hit(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeRemote) SearchSubstituteCandidates(_ context.Context, _, _ string) ([]workflow.User, error) {
	f.hit("search")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]workflow.User(nil), f.candidates...), nil
}

func (f *fakeRemote) CreateSubstitutionRequest(_ context.Context, details workflow.SubstitutionDetails, candidateID string) (*workflow.Substitution, error) {
	f.hit("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = &workflow.Substitution{
		ID:          "sub-1",
		RequestedBy: "alice",
		RequestedTo: candidateID,
		Details:     details,
		Status:      workflow.SubstitutionPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	c := *f.created
	return &c, nil
}

func (f *fakeRemote) ListOutgoingSubstitutionRequests(ctx context.Context, _ string) ([]workflow.Substitution, error) {
	n := f.hit("list")
	f.mu.Lock()
	list := f.list
	f.mu.Unlock()
	if list == nil {
		return nil, nil
	}
	return list(ctx, n)
}

func (f *fakeRemote) ListRecentLeaveRequests(_ context.Context, _ string, _ time.Duration) ([]workflow.LeaveRequest, error) {
	f.hit("recent")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return append([]workflow.LeaveRequest(nil), f.recent...), nil
}

func (f *fakeRemote) SubmitLeaveRequest(_ context.Context, fields workflow.LeaveFields, substitutionID string) (*workflow.LeaveRequest, error) {
	f.hit("submit")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, substitutionID)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &workflow.LeaveRequest{
		ID:             "leave-1",
		UserID:         "alice",
		LeaveFields:    fields,
		SubstitutionID: substitutionID,
		Status:         f.submitState,
		CreatedAt:      time.Now(),
	}, nil
}

// withStatus returns the created request with status st.
func (f *fakeRemote) withStatus(st workflow.SubstitutionStatus) []workflow.Substitution {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		return nil
	}
	s := *f.created
	s.Status = st
	s.UpdatedAt = time.Now()
	s.RequestedToName = "jdoe"
	return []workflow.Substitution{s}
}

// script answers the following list calls with statuses in order,
// repeating the last one.
func (f *fakeRemote) script(statuses ...workflow.SubstitutionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := f.calls["list"]
	f.list = func(_ context.Context, n int) ([]workflow.Substitution, error) {
		i := n - base - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		return f.withStatus(statuses[i]), nil
	}
}

var errNetwork = errors.New("connection refused")
