package handshake

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// trackerSlack widens the recent-leaves window past the oldest tracked leave.
const trackerSlack = time.Minute

// LeaveTracker follows submitted leaves through the approval chain and
// emits NoticeLeaveStatusChanged on each change. It stops by itself once
// every tracked leave is APPROVED, REJECTED or CANCELLED.
type LeaveTracker struct {
	remote      Remote
	requesterID string
	interval    time.Duration
	logger      *zap.Logger
	notify      Notifier
	now         func() time.Time

	mu      sync.Mutex
	tracked map[string]workflow.LeaveRequest // non-terminal only
	seen    map[string]workflow.LeaveStatus
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	delivering chan struct{} // done of the loop currently inside a Notifier
}

func newLeaveTracker(remote Remote, requesterID string, interval time.Duration, logger *zap.Logger, notify Notifier, now func() time.Time) *LeaveTracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LeaveTracker{
		remote:      remote,
		requesterID: requesterID,
		interval:    interval,
		logger:      logger,
		notify:      notify,
		now:         now,
		tracked:     make(map[string]workflow.LeaveRequest),
		seen:        make(map[string]workflow.LeaveStatus),
	}
}

// Track starts following leave unless it is already terminal.
func (t *LeaveTracker) Track(leave workflow.LeaveRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[leave.ID] = leave.Status
	if t.closed || leave.Status.IsTerminal() {
		return
	}
	t.tracked[leave.ID] = leave
	if t.done == nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.done = make(chan struct{})
		go t.run(ctx, t.done)
	}
}

// Statuses returns the last known status of every leave ever tracked.
func (t *LeaveTracker) Statuses() map[string]workflow.LeaveStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]workflow.LeaveStatus, len(t.seen))
	for id, st := range t.seen {
		out[id] = st
	}
	return out
}

// Running reports whether the loop is active.
func (t *LeaveTracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Stop ends tracking for good. It waits for the loop to exit unless it is
// called from a Notifier running on that loop.
func (t *LeaveTracker) Stop() {
	t.mu.Lock()
	t.closed = true
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	wait := done != nil && t.delivering != done
	t.mu.Unlock()

	halt(cancel, done, wait)
}

func (t *LeaveTracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		finished, notices, _ := t.poll(ctx)
		t.deliver(done, notices)
		if finished {
			return
		}
	}
}

func (t *LeaveTracker) deliver(done chan struct{}, notices []Notice) {
	if len(notices) == 0 {
		return
	}
	t.mu.Lock()
	t.delivering = done
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.delivering = nil
		t.mu.Unlock()
	}()
	for _, n := range notices {
		t.notify.Notify(n)
	}
}

// Poll refreshes every tracked leave once and sends the resulting notices.
// It reports whether nothing is left to follow, in which case the loop
// handle is released.
func (t *LeaveTracker) Poll(ctx context.Context) (bool, error) {
	finished, notices, err := t.poll(ctx)
	for _, n := range notices {
		t.notify.Notify(n)
	}
	return finished, err
}

func (t *LeaveTracker) poll(ctx context.Context) (bool, []Notice, error) {
	t.mu.Lock()
	if len(t.tracked) == 0 {
		t.releaseLocked()
		t.mu.Unlock()
		return true, nil, nil
	}
	oldest := t.now()
	for _, l := range t.tracked {
		if l.CreatedAt.Before(oldest) {
			oldest = l.CreatedAt
		}
	}
	t.mu.Unlock()

	since := t.now().Sub(oldest) + trackerSlack
	leaves, err := t.remote.ListRecentLeaveRequests(ctx, t.requesterID, since)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}
		err = asTransient("poll leave status", err)
		t.logger.Warn("leave status poll failed", zap.Error(err))
		return false, []Notice{{
			Kind:    NoticeTransientFailure,
			Message: "could not refresh leave status, retrying",
			Err:     err,
			At:      t.now(),
		}}, err
	}

	var notices []Notice
	t.mu.Lock()
	for _, l := range leaves {
		prev, ok := t.tracked[l.ID]
		if !ok || prev.Status == l.Status {
			continue
		}
		t.seen[l.ID] = l.Status
		notices = append(notices, Notice{
			Kind:    NoticeLeaveStatusChanged,
			Message: "leave " + l.ID + ": " + l.Status.Label(),
			At:      t.now(),
		})
		if l.Status.IsTerminal() {
			delete(t.tracked, l.ID)
		} else {
			t.tracked[l.ID] = l
		}
	}
	finished := len(t.tracked) == 0
	if finished {
		t.releaseLocked()
	}
	t.mu.Unlock()

	return finished, notices, nil
}

// releaseLocked drops the loop handle; the loop exits after Poll returns.
func (t *LeaveTracker) releaseLocked() {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel, t.done = nil, nil
}
