package handshake

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// Engine is one user's handshake pipeline: Machine, Reconciler, Gate and
// LeaveTracker, bound to an explicit session.
type Engine struct {
	session       workflow.Session
	remote        Remote
	logger        *zap.Logger
	recencyWindow time.Duration

	machine    *Machine
	reconciler *Reconciler
	gate       *Gate
	tracker    *LeaveTracker
}

type options struct {
	logger          *zap.Logger
	notifier        Notifier
	pollInterval    time.Duration
	recencyWindow   time.Duration
	responseTimeout time.Duration
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotifier receives every notice in addition to the log.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithPollInterval sets the Reconciler and LeaveTracker interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithRecencyWindow sets how recent a leave must be to suppress an
// accepted substitution at startup.
func WithRecencyWindow(d time.Duration) Option {
	return func(o *options) { o.recencyWindow = d }
}

// WithResponseTimeout emits one NoticeAwaitingResponse once a request has
// waited this long. Zero disables it.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an engine for session. Call Init before any user operation
// and Close when done.
func New(session workflow.Session, remote Remote, opts ...Option) (*Engine, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	o := options{
		pollInterval:  DefaultPollInterval,
		recencyWindow: DefaultRecencyWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("user", session.UserID), zap.String("role", string(session.Role)))

	var notify Notifier = logNotifier{logger: logger}
	if o.notifier != nil {
		notify = fanout{notify, o.notifier}
	}

	m := newMachine(session, remote, logger, notify, o.now)
	r := newReconciler(m, remote, session.UserID, o.pollInterval, o.responseTimeout, logger.Named("reconciler"), notify, o.now)
	m.poller = r
	t := newLeaveTracker(remote, session.UserID, o.pollInterval, logger.Named("tracker"), notify, o.now)
	g := &Gate{
		machine:   m,
		remote:    remote,
		session:   session,
		logger:    logger,
		notify:    notify,
		submitted: t.Track,
	}

	return &Engine{
		session:       session,
		remote:        remote,
		logger:        logger,
		recencyWindow: o.recencyWindow,
		machine:       m,
		reconciler:    r,
		gate:          g,
		tracker:       t,
	}, nil
}

// Close stops all background polling. Later user operations fail.
func (e *Engine) Close() {
	e.machine.mu.Lock()
	e.machine.closed = true
	e.machine.mu.Unlock()

	e.reconciler.Close()
	e.tracker.Stop()
}

// =============================================================================
// DELEGATES
// =============================================================================

func (e *Engine) Session() workflow.Session { return e.session }

func (e *Engine) State() State { return e.machine.State() }

func (e *Engine) Snapshot() Snapshot { return e.machine.Snapshot() }

func (e *Engine) History() []Transition { return e.machine.History() }

func (e *Engine) Wait(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	return e.machine.Wait(ctx, pred)
}

func (e *Engine) StartSearch(ctx context.Context, query string) ([]workflow.User, error) {
	return e.machine.StartSearch(ctx, query)
}

func (e *Engine) SelectCandidate(user workflow.User) error {
	return e.machine.SelectCandidate(user)
}

func (e *Engine) SendRequest(ctx context.Context, details workflow.SubstitutionDetails) (*workflow.Substitution, error) {
	return e.machine.SendRequest(ctx, details)
}

func (e *Engine) Reset() { e.machine.Reset() }

func (e *Engine) CanSubmit() bool { return e.gate.CanSubmit() }

func (e *Engine) Submit(ctx context.Context, fields workflow.LeaveFields) (*workflow.LeaveRequest, error) {
	return e.gate.Submit(ctx, fields)
}

// Reconciler exposes the polling loop, mainly for single-pass polling.
func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// Tracker exposes the submitted-leave tracker.
func (e *Engine) Tracker() *LeaveTracker { return e.tracker }

// WaitResolved blocks until the handshake leaves REQUESTED.
func (e *Engine) WaitResolved(ctx context.Context) (Snapshot, error) {
	return e.machine.Wait(ctx, func(s Snapshot) bool {
		return s.State != StateRequested
	})
}
