package handshake

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// DefaultRecencyWindow suppresses an ACCEPTED substitution at startup when
// the user already filed a leave this recently.
const DefaultRecencyWindow = time.Hour

// Init classifies existing remote state once, so a reload never starts a
// duplicate negotiation:
//
//	latest PENDING request           -> REQUESTED, polling resumes
//	latest terminal ACCEPTED request -> ACCEPTED, unless a leave was filed
//	                                    within the recency window (-> PENDING)
//	latest terminal REJECTED request -> REJECTED
//	nothing                          -> PENDING
//
// User operations fail with PreconditionError until Init succeeds. A fetch
// failure leaves the engine uninitialized; call Init again.
func (e *Engine) Init(ctx context.Context) (State, error) {
	const op = "init"

	if e.machine.Snapshot().Ready {
		return e.machine.State(), e.machine.fail(&workflow.PreconditionError{Op: op, Reason: "already initialized"})
	}

	if !e.session.Role.RequiresSubstitution() {
		if err := e.machine.restore(StateIdle, nil, ""); err != nil {
			return e.machine.State(), err
		}
		return StateIdle, nil
	}

	subs, err := e.remote.ListOutgoingSubstitutionRequests(ctx, e.session.UserID)
	if err != nil {
		return e.machine.State(), e.machine.fail(asTransient(op, err))
	}

	to, sub, err := e.classify(ctx, subs)
	if err != nil {
		return e.machine.State(), e.machine.fail(asTransient(op, err))
	}

	reason := ""
	if to == StateRejected {
		reason = "your last substitution request was declined"
	}
	if err := e.machine.restore(to, sub, reason); err != nil {
		return e.machine.State(), err
	}

	fields := []zap.Field{zap.String("state", string(to))}
	if sub != nil {
		fields = append(fields, zap.String("request_id", sub.ID))
	}
	e.logger.Info("handshake classified", fields...)
	return to, nil
}

func (e *Engine) classify(ctx context.Context, subs []workflow.Substitution) (State, *workflow.Substitution, error) {
	if pending := latest(subs, func(s workflow.Substitution) bool { return s.IsPending() }); pending != nil {
		return StateRequested, pending, nil
	}

	last := latest(subs, func(s workflow.Substitution) bool { return s.Status.IsTerminal() })
	if last == nil {
		return StateIdle, nil, nil
	}
	if last.Status == workflow.SubstitutionRejected {
		return StateRejected, last, nil
	}

	recent, err := e.remote.ListRecentLeaveRequests(ctx, e.session.UserID, e.recencyWindow)
	if err != nil {
		return "", nil, err
	}
	if len(recent) > 0 {
		e.logger.Debug("accepted substitution already consumed by a recent leave",
			zap.String("request_id", last.ID),
			zap.String("leave_id", recent[0].ID))
		return StateIdle, nil, nil
	}
	return StateAccepted, last, nil
}

// latest returns the most recently created entry matching keep.
func latest(subs []workflow.Substitution, keep func(workflow.Substitution) bool) *workflow.Substitution {
	var best *workflow.Substitution
	for i := range subs {
		if !keep(subs[i]) {
			continue
		}
		if best == nil || subs[i].CreatedAt.After(best.CreatedAt) {
			s := subs[i]
			best = &s
		}
	}
	return best
}
