/*
scheduler.go - Automated substitution expiry and earned accrual

PURPOSE:
  Periodically rejects PENDING substitution requests whose session date
  has already passed. The requester's Reconciler then observes REJECTED
  on its next poll, which ends a negotiation nobody answered.

  The same pass credits monthly earned leave. Accrual is keyed per user
  and month, so running it every hour credits each month once.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Delegates the rules to workflow.Service.ExpireStale and AccrueEarned
  - A failing expiry pass does not skip accrual, nor the other way round

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - workflow/service.go: ExpireStale
  - workflow/accrual.go: AccrueEarned
  - handshake/reconciler.go: Observes the resulting REJECTED status
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/workflow"
)

// ExpiryScheduler handles automated substitution expiry.
type ExpiryScheduler struct {
	Service       *workflow.Service
	CheckInterval time.Duration
	Enabled       bool
	Logger        *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
	expired int
	accrued int
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(svc *workflow.Service, logger *zap.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger.Named("expiry"),
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info("scheduler disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	es.Logger.Info("scheduler started", zap.Duration("interval", es.CheckInterval))
}

// Stop stops the scheduler and waits for a running check to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	ticker, stop := es.ticker, es.stop
	es.ticker, es.stop = nil, nil
	es.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	es.wg.Wait()
	es.Logger.Info("scheduler stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			es.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass and returns how many requests it rejected.
func (es *ExpiryScheduler) RunNow(ctx context.Context) int {
	n, err := es.Service.ExpireStale(ctx)
	if err != nil {
		es.Logger.Error("expiry check failed", zap.Error(err))
		n = 0
	}
	credited, err := es.Service.AccrueEarned(ctx)
	if err != nil {
		es.Logger.Error("earned accrual failed", zap.Error(err))
	}

	es.mu.Lock()
	es.lastRun = time.Now()
	es.expired += n
	es.accrued += credited
	es.mu.Unlock()

	if n > 0 {
		es.Logger.Info("expired stale substitution requests", zap.Int("count", n))
	}
	return n
}

// Stats returns when the last pass ran and the total expired so far.
func (es *ExpiryScheduler) Stats() (lastRun time.Time, expired int) {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.lastRun, es.expired
}

// Accrued returns how many earned-leave credits the scheduler applied.
func (es *ExpiryScheduler) Accrued() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.accrued
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExpiryScheduler) GetNextRunTime() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.lastRun.IsZero() {
		return time.Now()
	}
	return es.lastRun.Add(es.CheckInterval)
}
