package handshake

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// poller is the part of the Reconciler the Machine drives.
type poller interface {
	Start(id string)
	Stop()
}

// Snapshot is a consistent copy of the machine's observable fields.
type Snapshot struct {
	State      State
	Ready      bool
	Candidates []workflow.User
	Selected   *workflow.User
	Request    *workflow.Substitution
	Reason     string // last rejection reason, if any
}

// Machine owns the local lifecycle of one substitution negotiation.
type Machine struct {
	session workflow.Session
	remote  Remote
	logger  *zap.Logger
	notify  Notifier
	now     func() time.Time
	poller  poller

	mu          sync.Mutex
	state       State
	ready       bool
	closed      bool
	busy        string // user operation with a remote call in flight
	gen         uint64 // bumped by Reset, guards user-call results
	candidates  []workflow.User
	selected    *workflow.User
	request     *workflow.Substitution
	requestedAt time.Time
	reason      string
	outstanding string // id of a request left PENDING on the server by Reset
	history     []Transition
	changed     chan struct{}
}

func newMachine(session workflow.Session, remote Remote, logger *zap.Logger, notify Notifier, now func() time.Time) *Machine {
	return &Machine{
		session: session,
		remote:  remote,
		logger:  logger,
		notify:  notify,
		now:     now,
		poller:  nopPoller{},
		state:   StateIdle,
		changed: make(chan struct{}),
	}
}

type nopPoller struct{}

func (nopPoller) Start(string) {}
func (nopPoller) Stop()        {}

// =============================================================================
// OBSERVATION
// =============================================================================

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the observable fields.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:      m.state,
		Ready:      m.ready,
		Candidates: append([]workflow.User(nil), m.candidates...),
		Reason:     m.reason,
	}
	if m.selected != nil {
		u := *m.selected
		s.Selected = &u
	}
	if m.request != nil {
		r := *m.request
		s.Request = &r
	}
	return s
}

// History returns every transition so far, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Wait blocks until pred holds for the current snapshot or ctx is done.
func (m *Machine) Wait(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		m.mu.Lock()
		snap := m.snapshotLocked()
		ch := m.changed
		m.mu.Unlock()

		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ch:
		}
	}
}

// trackedID returns the request id the Reconciler should follow, or "".
func (m *Machine) trackedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRequested || m.request == nil {
		return ""
	}
	return m.request.ID
}

// requestedSince reports when the tracked request entered REQUESTED.
func (m *Machine) requestedSince(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRequested || m.request == nil || m.request.ID != id {
		return time.Time{}, false
	}
	return m.requestedAt, true
}

// acceptedID returns the accepted substitution's id, or "".
func (m *Machine) acceptedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAccepted || m.request == nil {
		return ""
	}
	return m.request.ID
}

// =============================================================================
// USER OPERATIONS
// =============================================================================

// StartSearch queries the directory for candidate substitutes. Valid from
// PENDING or REJECTED. An empty result is not an error. On a transient
// failure the state does not change.
func (m *Machine) StartSearch(ctx context.Context, query string) ([]workflow.User, error) {
	const op = "start search"
	query = strings.TrimSpace(query)

	m.mu.Lock()
	if err := m.checkLocked(op, StateIdle, StateRejected); err != nil {
		m.mu.Unlock()
		return nil, m.fail(err)
	}
	if query == "" {
		m.mu.Unlock()
		return nil, m.fail(&workflow.ValidationError{Field: "query", Message: "required"})
	}
	m.busy = op
	gen := m.gen
	m.mu.Unlock()

	users, err := m.remote.SearchSubstituteCandidates(ctx, query, m.session.Department)

	m.mu.Lock()
	m.busy = ""
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Debug("discarding search result after reset", zap.String("query", query))
		return nil, &workflow.PreconditionError{Op: op, Reason: "reset while searching"}
	}
	if err != nil {
		m.mu.Unlock()
		return nil, m.fail(asTransient(op, err))
	}

	candidates := make([]workflow.User, 0, len(users))
	for _, u := range users {
		if u.ID != m.session.UserID {
			candidates = append(candidates, u)
		}
	}
	from := m.state
	m.candidates = candidates
	m.selected = nil
	m.request = nil
	m.reason = ""
	notices := m.transitionLocked(StateSearching, CauseUser)
	m.mu.Unlock()

	m.emit(notices)
	m.logger.Debug("search complete",
		zap.String("from", string(from)),
		zap.Int("candidates", len(candidates)))
	return append([]workflow.User(nil), candidates...), nil
}

// SelectCandidate picks one of the users returned by StartSearch and clears
// the candidate list.
func (m *Machine) SelectCandidate(user workflow.User) error {
	const op = "select candidate"

	m.mu.Lock()
	if err := m.checkLocked(op, StateSearching); err != nil {
		m.mu.Unlock()
		return m.fail(err)
	}
	var picked *workflow.User
	for i := range m.candidates {
		if m.candidates[i].ID == user.ID {
			u := m.candidates[i]
			picked = &u
			break
		}
	}
	if picked == nil {
		m.mu.Unlock()
		return m.fail(&workflow.ValidationError{Field: "candidate", Message: "not in the search results"})
	}
	m.selected = picked
	m.candidates = nil
	notices := m.transitionLocked(StateSelected, CauseUser)
	m.mu.Unlock()

	m.emit(notices)
	return nil
}

// SendRequest asks the selected candidate to cover details. On success the
// machine enters REQUESTED and polling starts. A remote rejection moves the
// machine straight to REJECTED and is returned. A transient failure leaves
// the machine in SELECTED.
func (m *Machine) SendRequest(ctx context.Context, details workflow.SubstitutionDetails) (*workflow.Substitution, error) {
	const op = "send request"

	m.mu.Lock()
	if err := m.checkLocked(op, StateSelected); err != nil {
		m.mu.Unlock()
		return nil, m.fail(err)
	}
	if err := details.Validate(); err != nil {
		m.mu.Unlock()
		return nil, m.fail(err)
	}
	candidate := *m.selected
	outstanding := m.outstanding
	m.busy = op
	gen := m.gen
	m.mu.Unlock()

	if outstanding != "" && m.stillPending(ctx, outstanding) {
		m.mu.Lock()
		m.busy = ""
		state := m.state
		m.mu.Unlock()
		return nil, m.fail(&workflow.PreconditionError{
			Op:     op,
			State:  string(state),
			Reason: "request " + outstanding + " is still pending",
		})
	}

	sub, err := m.remote.CreateSubstitutionRequest(ctx, details, candidate.ID)

	m.mu.Lock()
	m.busy = ""
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil && sub != nil {
			m.logger.Warn("substitution created after reset, left to the server",
				zap.String("id", sub.ID))
		}
		return nil, &workflow.PreconditionError{Op: op, Reason: "reset while sending"}
	}

	if err != nil {
		err = asTransient(op, err)
		if !workflow.IsRejection(err) {
			m.mu.Unlock()
			return nil, m.fail(err)
		}
		m.reason = workflow.RejectionReason(err)
		m.selected = nil
		m.request = nil
		notices := m.transitionLocked(StateRejected, CauseUser)
		m.mu.Unlock()

		m.emit(notices)
		m.emit([]Notice{{Kind: NoticeRejected, State: StateRejected, Message: m.reasonText(err), Err: err}})
		return nil, err
	}

	if sub.RequestedToName == "" {
		sub.RequestedToName = candidate.Username
	}
	req := *sub
	m.request = &req
	m.requestedAt = m.now()
	m.reason = ""
	notices := m.transitionLocked(StateRequested, CauseUser)
	closed := m.closed
	m.mu.Unlock()

	if !closed {
		m.poller.Start(req.ID)
	}
	m.emit(notices)
	return sub, nil
}

// Reset returns to PENDING from any state, clears candidate, selection and
// request, and stops polling. Results of calls still in flight are dropped.
// A request still PENDING on the server is remembered, and SendRequest
// refuses to send another until it is answered.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.gen++
	if m.request != nil && m.request.IsPending() {
		m.outstanding = m.request.ID
	}
	m.candidates = nil
	m.selected = nil
	m.request = nil
	m.reason = ""
	m.requestedAt = time.Time{}
	notices := m.transitionLocked(StateIdle, CauseReset)
	m.mu.Unlock()

	m.poller.Stop()
	m.emit(notices)
}

// beginSubmit reserves the machine for a leave submission. A non-empty
// substitutionID must still be the accepted request.
func (m *Machine) beginSubmit(op, substitutionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if substitutionID != "" {
		err = m.checkLocked(op, StateAccepted)
		if err == nil && (m.request == nil || m.request.ID != substitutionID) {
			err = &workflow.PreconditionError{Op: op, State: string(m.state), Reason: "substitution changed"}
		}
	} else {
		err = m.checkLocked(op, m.state)
	}
	if err != nil {
		return err
	}
	m.busy = op
	return nil
}

func (m *Machine) endSubmit() {
	m.mu.Lock()
	m.busy = ""
	m.mu.Unlock()
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// reconcile folds the server's view of request id into the machine and
// emits the resulting notices. It reports whether polling for id is finished.
func (m *Machine) reconcile(id string, server workflow.Substitution) bool {
	finished, notices := m.fold(id, server)
	m.emit(notices)
	return finished
}

// fold is reconcile without the notices being sent, so the poll loop can
// release its handle before any Notifier runs. Results for an id that is no
// longer tracked are dropped.
func (m *Machine) fold(id string, server workflow.Substitution) (bool, []Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outstanding == id && !server.IsPending() {
		m.outstanding = ""
	}
	if m.request == nil || m.request.ID != id {
		return true, nil
	}
	if m.state != StateRequested {
		// Already terminal for this id.
		return true, nil
	}

	current := m.request.Status
	if !current.Advances(server.Status) {
		if server.Status == current && server.UpdatedAt.After(m.request.UpdatedAt) {
			m.refreshLocked(server)
		}
		return false, nil
	}

	var notices []Notice
	switch server.Status {
	case workflow.SubstitutionAccepted:
		m.refreshLocked(server)
		m.request.Status = server.Status
		notices = m.transitionLocked(StateAccepted, CauseReconcile)
		notices = append(notices, Notice{
			Kind:      NoticeStateChanged,
			State:     StateAccepted,
			Message:   m.nameOf(server) + " accepted, leave can be submitted",
			RequestID: id,
		})
	case workflow.SubstitutionRejected:
		name := m.nameOf(server)
		m.request = nil
		m.selected = nil
		m.reason = name + " declined the substitution request"
		notices = m.transitionLocked(StateRejected, CauseReconcile)
		notices = append(notices, Notice{
			Kind:      NoticeRejected,
			State:     StateRejected,
			Message:   m.reason,
			RequestID: id,
		})
	}
	return true, m.stamp(notices)
}

// stillPending asks the server whether request id is still open. A failed
// lookup reports false and leaves the duplicate check to the server.
func (m *Machine) stillPending(ctx context.Context, id string) bool {
	subs, err := m.remote.ListOutgoingSubstitutionRequests(ctx, m.session.UserID)
	if err != nil {
		m.logger.Debug("outstanding request check failed", zap.String("request_id", id), zap.Error(err))
		return false
	}
	sub, ok := statusOf(subs, id)
	if ok && sub.IsPending() {
		return true
	}

	m.mu.Lock()
	if m.outstanding == id {
		m.outstanding = ""
	}
	m.mu.Unlock()
	return false
}

// restore applies startup classification. Only valid once, from PENDING.
func (m *Machine) restore(to State, sub *workflow.Substitution, reason string) error {
	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		return &workflow.PreconditionError{Op: "init", State: string(m.state), Reason: "already initialized"}
	}
	var notices []Notice
	if to != StateIdle {
		if !Allowed(m.state, to, CauseStartup) {
			from := m.state
			m.mu.Unlock()
			return &workflow.PreconditionError{Op: "init", State: string(from), Reason: "cannot restore " + string(to)}
		}
		if sub != nil {
			r := *sub
			m.request = &r
			if to == StateRequested {
				m.requestedAt = m.now()
			}
		}
		if to == StateRejected {
			m.request = nil
		}
		m.reason = reason
		notices = m.transitionLocked(to, CauseStartup)
	}
	m.ready = true
	m.broadcastLocked()
	closed := m.closed
	m.mu.Unlock()

	if to == StateRequested && sub != nil && !closed {
		m.poller.Start(sub.ID)
	}
	m.emit(notices)
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// checkLocked validates readiness, exclusivity and the source state of a
// user operation.
func (m *Machine) checkLocked(op string, from ...State) error {
	switch {
	case m.closed:
		return &workflow.PreconditionError{Op: op, State: string(m.state), Reason: "engine closed"}
	case !m.ready:
		return &workflow.PreconditionError{Op: op, State: string(m.state), Reason: "engine not initialized"}
	case m.busy != "":
		return &workflow.PreconditionError{Op: op, State: string(m.state), Reason: m.busy + " in progress"}
	}
	for _, s := range from {
		if m.state == s {
			return nil
		}
	}
	return &workflow.PreconditionError{Op: op, State: string(m.state), Reason: "invalid state"}
}

func (m *Machine) transitionLocked(to State, cause Cause) []Notice {
	from := m.state
	if !Allowed(from, to, cause) {
		m.logger.Error("illegal handshake transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("cause", string(cause)))
		return nil
	}
	m.state = to
	m.history = append(m.history, Transition{From: from, To: to, Cause: cause, At: m.now()})
	m.broadcastLocked()

	n := Notice{Kind: NoticeStateChanged, State: to, Message: "handshake " + string(from) + " -> " + string(to)}
	if m.request != nil {
		n.RequestID = m.request.ID
	}
	return []Notice{n}
}

func (m *Machine) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine) refreshLocked(server workflow.Substitution) {
	if server.RequestedToName != "" {
		m.request.RequestedToName = server.RequestedToName
	}
	if server.RequestedByName != "" {
		m.request.RequestedByName = server.RequestedByName
	}
	m.request.UpdatedAt = server.UpdatedAt
}

func (m *Machine) nameOf(server workflow.Substitution) string {
	switch {
	case server.RequestedToName != "":
		return server.RequestedToName
	case m.request != nil && m.request.RequestedToName != "":
		return m.request.RequestedToName
	}
	return "the substitute"
}

func (m *Machine) reasonText(err error) string {
	return "substitution request rejected: " + workflow.RejectionReason(err)
}

// fail emits the notice matching err's class and returns err.
func (m *Machine) fail(err error) error {
	kind := NoticeTransientFailure
	switch {
	case workflow.IsValidation(err):
		kind = NoticeValidation
	case workflow.IsPrecondition(err):
		kind = NoticePrecondition
	case workflow.IsRejection(err):
		kind = NoticeRejected
	}
	m.emit([]Notice{{Kind: kind, State: m.State(), Message: err.Error(), Err: err}})
	return err
}

func (m *Machine) emit(notices []Notice) {
	for _, n := range m.stamp(notices) {
		m.notify.Notify(n)
	}
}

// stamp fills in the time of notices that have none.
func (m *Machine) stamp(notices []Notice) []Notice {
	for i := range notices {
		if notices[i].At.IsZero() {
			notices[i].At = m.now()
		}
	}
	return notices
}
