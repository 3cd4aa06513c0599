package handshake

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// Gate permits leave submission only once the handshake is accepted, for
// roles that need a substitute. Other roles may always submit.
type Gate struct {
	machine *Machine
	remote  Remote
	session workflow.Session
	logger  *zap.Logger
	notify  Notifier

	// submitted is called with every leave the remote system accepted.
	submitted func(workflow.LeaveRequest)
}

// CanSubmit reports whether Submit would be attempted remotely.
func (g *Gate) CanSubmit() bool {
	if !g.session.Role.RequiresSubstitution() {
		return true
	}
	return g.machine.acceptedID() != ""
}

// Submit files a leave request. Out of order it fails with a
// PreconditionError without any remote call. On success the handshake is
// reset to PENDING. On a rejection or transient failure the handshake is
// left as it is so the user can fix the payload and retry.
func (g *Gate) Submit(ctx context.Context, fields workflow.LeaveFields) (*workflow.LeaveRequest, error) {
	const op = "submit leave"

	substitutionID := ""
	if g.session.Role.RequiresSubstitution() {
		substitutionID = g.machine.acceptedID()
		if substitutionID == "" {
			state := g.machine.State()
			return nil, g.machine.fail(&workflow.PreconditionError{
				Op:     op,
				State:  string(state),
				Reason: "an accepted substitution is required before submitting leave",
			})
		}
	}
	if err := fields.Validate(); err != nil {
		return nil, g.machine.fail(err)
	}
	if err := g.machine.beginSubmit(op, substitutionID); err != nil {
		return nil, g.machine.fail(err)
	}

	leave, err := g.remote.SubmitLeaveRequest(ctx, fields, substitutionID)
	g.machine.endSubmit()
	if err != nil {
		return nil, g.machine.fail(asTransient(op, err))
	}

	g.machine.Reset()

	if want, err := workflow.InitialStatus(g.session.Role); err == nil && leave.Status != want {
		g.logger.Warn("leave routed unexpectedly",
			zap.String("id", leave.ID),
			zap.String("status", string(leave.Status)),
			zap.String("expected", string(want)))
	}
	g.logger.Info("leave submitted",
		zap.String("id", leave.ID),
		zap.String("type", string(leave.LeaveType)),
		zap.String("status", string(leave.Status)),
		zap.String("substitution_id", substitutionID))
	g.notify.Notify(Notice{
		Kind:    NoticeLeaveSubmitted,
		State:   StateIdle,
		Message: "leave submitted: " + leave.Status.Label(),
		At:      g.machine.now(),
	})
	if g.submitted != nil {
		g.submitted(*leave)
	}
	return leave, nil
}
