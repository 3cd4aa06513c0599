package handshake

import (
	"context"
	"errors"
	"time"

	"github.com/warp/leave-engine/workflow"
)

// LocalRemote runs the collaborator contracts in-process against a
// workflow.Service, as one session. Used by tests and the embedded demo.
type LocalRemote struct {
	svc     *workflow.Service
	session workflow.Session
}

func NewLocalRemote(svc *workflow.Service, session workflow.Session) *LocalRemote {
	return &LocalRemote{svc: svc, session: session}
}

func (l *LocalRemote) SearchSubstituteCandidates(ctx context.Context, query, _ string) ([]workflow.User, error) {
	users, err := l.svc.SearchCandidates(ctx, l.session, query)
	return users, remoteError("search candidates", err)
}

func (l *LocalRemote) CreateSubstitutionRequest(ctx context.Context, details workflow.SubstitutionDetails, candidateID string) (*workflow.Substitution, error) {
	sub, err := l.svc.CreateSubstitution(ctx, l.session, details, candidateID)
	return sub, remoteError("create substitution", err)
}

func (l *LocalRemote) ListOutgoingSubstitutionRequests(ctx context.Context, requesterID string) ([]workflow.Substitution, error) {
	if requesterID != l.session.UserID {
		return nil, remoteError("list substitutions", &workflow.RuleError{Code: workflow.CodeForbidden, Reason: "not authorized", Err: workflow.ErrForbidden})
	}
	subs, err := l.svc.SentSubstitutions(ctx, l.session)
	return subs, remoteError("list substitutions", err)
}

func (l *LocalRemote) ListRecentLeaveRequests(ctx context.Context, requesterID string, since time.Duration) ([]workflow.LeaveRequest, error) {
	if requesterID != l.session.UserID {
		return nil, remoteError("list leaves", &workflow.RuleError{Code: workflow.CodeForbidden, Reason: "not authorized", Err: workflow.ErrForbidden})
	}
	leaves, err := l.svc.RecentLeaves(ctx, l.session, since)
	return leaves, remoteError("list leaves", err)
}

func (l *LocalRemote) SubmitLeaveRequest(ctx context.Context, fields workflow.LeaveFields, substitutionID string) (*workflow.LeaveRequest, error) {
	leave, err := l.svc.SubmitLeave(ctx, l.session, fields, substitutionID)
	return leave, remoteError("submit leave", err)
}

func (l *LocalRemote) RespondToSubstitutionRequest(ctx context.Context, id string, decision workflow.Decision) (*workflow.Substitution, error) {
	sub, err := l.svc.Respond(ctx, l.session, id, decision)
	return sub, remoteError("respond", err)
}

// remoteError classifies service errors the way the HTTP client does:
// rule and validation failures are rejections, the rest is transient.
func remoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rule *workflow.RuleError
	if errors.As(err, &rule) {
		return &workflow.RemoteRejection{Op: op, Code: rule.Code, Reason: rule.Reason}
	}
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return &workflow.RemoteRejection{Op: op, Code: workflow.CodeValidation, Reason: ve.Error()}
	}
	if code := workflow.CodeFor(err); code != "" {
		return &workflow.RemoteRejection{Op: op, Code: code, Reason: err.Error()}
	}
	return &workflow.TransientNetworkError{Op: op, Err: err}
}
