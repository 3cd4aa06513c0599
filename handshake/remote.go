package handshake

import (
	"context"
	"time"

	"github.com/warp/leave-engine/workflow"
)

// Remote is everything the engine needs from the remote system. All calls
// act on behalf of the session the implementation was built for.
//
// Implementations report business refusals as *workflow.RemoteRejection and
// retryable failures as *workflow.TransientNetworkError. Any other error is
// treated as transient.
type Remote interface {
	// SearchSubstituteCandidates may return an empty list.
	SearchSubstituteCandidates(ctx context.Context, query, department string) ([]workflow.User, error)

	// CreateSubstitutionRequest returns the new request with status PENDING.
	CreateSubstitutionRequest(ctx context.Context, details workflow.SubstitutionDetails, candidateID string) (*workflow.Substitution, error)

	ListOutgoingSubstitutionRequests(ctx context.Context, requesterID string) ([]workflow.Substitution, error)

	ListRecentLeaveRequests(ctx context.Context, requesterID string, since time.Duration) ([]workflow.LeaveRequest, error)

	// SubmitLeaveRequest passes an empty substitutionID for roles that don't need one.
	SubmitLeaveRequest(ctx context.Context, fields workflow.LeaveFields, substitutionID string) (*workflow.LeaveRequest, error)
}

// Responder is used by the substitute's own engine, never the requester's.
type Responder interface {
	RespondToSubstitutionRequest(ctx context.Context, id string, decision workflow.Decision) (*workflow.Substitution, error)
}

// asTransient keeps rejections and transient errors as they are and wraps
// anything else as transient.
func asTransient(op string, err error) error {
	if err == nil || workflow.IsRejection(err) || workflow.IsTransient(err) {
		return err
	}
	return &workflow.TransientNetworkError{Op: op, Err: err}
}
