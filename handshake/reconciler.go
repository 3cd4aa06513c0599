package handshake

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// DefaultPollInterval is how often the Reconciler fetches while REQUESTED.
const DefaultPollInterval = 5 * time.Second

// maxBackoffFactor caps the delay after consecutive failures at this many
// poll intervals.
const maxBackoffFactor = 8

// Reconciler polls the requester's outgoing substitution requests while the
// Machine is REQUESTED and is the only writer of server status into it.
//
// Notices raised by the loop are delivered on the loop goroutine. A Notifier
// may call Reset or Close from there: Stop then cancels the loop without
// waiting for it, and the loop exits once the Notifier returns.
type Reconciler struct {
	machine         *Machine
	remote          Remote
	requesterID     string
	interval        time.Duration
	responseTimeout time.Duration
	logger          *zap.Logger
	notify          Notifier
	now             func() time.Time

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	delivering chan struct{} // done of the loop currently inside a Notifier
	closed     bool
	warned     string // request id already reported as slow
}

func newReconciler(m *Machine, remote Remote, requesterID string, interval, responseTimeout time.Duration, logger *zap.Logger, notify Notifier, now func() time.Time) *Reconciler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reconciler{
		machine:         m,
		remote:          remote,
		requesterID:     requesterID,
		interval:        interval,
		responseTimeout: responseTimeout,
		logger:          logger,
		notify:          notify,
		now:             now,
	}
}

// Start begins polling for id, replacing any running loop. It does nothing
// once the Reconciler is closed.
func (r *Reconciler) Start(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("reconciler closed, not starting", zap.String("request_id", id))
		return
	}
	prevCancel, prevDone, prevWait := r.detachLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	halt(prevCancel, prevDone, prevWait)
	r.logger.Debug("reconciler started", zap.String("request_id", id), zap.Duration("interval", r.interval))
	go r.run(ctx, done)
}

// Stop cancels the loop and waits for it to exit, unless the loop is the
// caller. Safe to call when idle.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done, wait := r.detachLocked()
	r.mu.Unlock()
	halt(cancel, done, wait)
}

// Close stops the loop for good. Later Start calls are ignored.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	cancel, done, wait := r.detachLocked()
	r.mu.Unlock()
	halt(cancel, done, wait)
}

// Running reports whether the loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// detachLocked takes the loop handle. wait is false when the loop is busy
// delivering notices, since the caller may be running inside that delivery.
func (r *Reconciler) detachLocked() (cancel context.CancelFunc, done chan struct{}, wait bool) {
	cancel, done = r.cancel, r.done
	r.cancel, r.done = nil, nil
	return cancel, done, done != nil && r.delivering != done
}

func halt(cancel context.CancelFunc, done chan struct{}, wait bool) {
	if cancel == nil {
		return
	}
	cancel()
	if wait {
		<-done
	}
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.exited(done)

	backoff := r.newBackoff()
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		finished, notices, err := r.poll(ctx)
		if finished {
			r.exited(done)
		}
		r.deliver(done, notices)
		if finished || ctx.Err() != nil {
			return
		}

		delay := r.interval
		if err != nil {
			next, stop := backoff.Next()
			if !stop {
				delay = next
			}
		} else {
			backoff = r.newBackoff()
		}
		timer.Reset(delay)
	}
}

// exited clears the loop handle when the loop ends on its own.
func (r *Reconciler) exited(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == done {
		r.cancel()
		r.cancel, r.done = nil, nil
	}
}

// deliver hands notices to the Notifier on the loop goroutine.
func (r *Reconciler) deliver(done chan struct{}, notices []Notice) {
	if len(notices) == 0 {
		return
	}
	r.mu.Lock()
	r.delivering = done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.delivering = nil
		r.mu.Unlock()
	}()
	for _, n := range notices {
		r.notify.Notify(n)
	}
}

func (r *Reconciler) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(maxBackoffFactor*r.interval, retry.NewExponential(r.interval))
}

// Poll runs one reconciliation pass and sends its notices. It reports
// whether polling is finished: the request reached a terminal status, or
// nothing is tracked any more. Fetch failures are logged, surfaced as a
// notice and returned; they never change the machine's state.
func (r *Reconciler) Poll(ctx context.Context) (bool, error) {
	finished, notices, err := r.poll(ctx)
	for _, n := range notices {
		r.notify.Notify(n)
	}
	return finished, err
}

func (r *Reconciler) poll(ctx context.Context) (bool, []Notice, error) {
	id := r.machine.trackedID()
	if id == "" {
		return true, nil, nil
	}

	subs, err := r.remote.ListOutgoingSubstitutionRequests(ctx, r.requesterID)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}
		err = asTransient("poll substitution status", err)
		r.logger.Warn("poll failed, will retry",
			zap.String("request_id", id),
			zap.Error(err))
		return false, []Notice{{
			Kind:      NoticeTransientFailure,
			State:     r.machine.State(),
			Message:   "could not refresh substitution status, retrying",
			Err:       err,
			RequestID: id,
			At:        r.now(),
		}}, err
	}

	server, ok := statusOf(subs, id)
	if !ok {
		r.logger.Debug("tracked request not in outgoing list", zap.String("request_id", id))
		return false, nil, nil
	}
	finished, notices := r.machine.fold(id, server)
	if !finished {
		if n, ok := r.checkResponseTimeout(id); ok {
			notices = append(notices, n)
		}
	}
	return finished, notices, nil
}

func (r *Reconciler) checkResponseTimeout(id string) (Notice, bool) {
	if r.responseTimeout <= 0 {
		return Notice{}, false
	}
	since, ok := r.machine.requestedSince(id)
	if !ok || r.now().Sub(since) < r.responseTimeout {
		return Notice{}, false
	}

	r.mu.Lock()
	already := r.warned == id
	r.warned = id
	r.mu.Unlock()
	if already {
		return Notice{}, false
	}

	return Notice{
		Kind:      NoticeAwaitingResponse,
		State:     StateRequested,
		Message:   "still waiting for the substitute to respond",
		RequestID: id,
		At:        r.now(),
	}, true
}

// statusOf finds id in subs.
func statusOf(subs []workflow.Substitution, id string) (workflow.Substitution, bool) {
	for _, s := range subs {
		if s.ID == id {
			return s, true
		}
	}
	return workflow.Substitution{}, false
}
