/*
scheduler.go - Pending-charge expiry sweeper

PURPOSE:
  Periodically fails pending charges whose deposit never arrived. Each
  stale charge goes through the normal settlement path, so the
  idempotency guard applies and a callback racing the sweep loses
  cleanly.

DESIGN:
  - Background goroutine on a ticker with a configurable interval
  - Runs one sweep immediately on start
  - Stop() blocks until the loop exits

USAGE:
  sweeper := NewChargeSweeper(charges, ttl, interval, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - engine/sweep.go: The sweep itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keyspot/storefront/engine"
)

// ChargeSweeper drives ChargeEngine.SweepExpired on an interval.
type ChargeSweeper struct {
	charges  *engine.ChargeEngine
	ttl      time.Duration
	interval time.Duration
	log      *zap.SugaredLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewChargeSweeper creates a sweeper. Zero ttl/interval fall back to
// 1 hour and 10 minutes.
func NewChargeSweeper(charges *engine.ChargeEngine, ttl, interval time.Duration, log *zap.SugaredLogger) *ChargeSweeper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ChargeSweeper{
		charges:  charges,
		ttl:      ttl,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (cs *ChargeSweeper) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.ticker = time.NewTicker(cs.interval)
	cs.wg.Add(1)
	go cs.run()

	cs.log.Infow("charge sweeper started", "ttl", cs.ttl, "interval", cs.interval)
}

// Stop stops the sweep loop and waits for it to exit.
func (cs *ChargeSweeper) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.log.Info("charge sweeper stopped")
	}
}

func (cs *ChargeSweeper) run() {
	defer cs.wg.Done()

	// Sweep immediately on start so a restart doesn't extend expiry.
	cs.sweep()

	for {
		select {
		case <-cs.ticker.C:
			cs.sweep()
		case <-cs.stop:
			return
		}
	}
}

func (cs *ChargeSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := cs.charges.SweepExpired(ctx, cs.ttl); err != nil {
		cs.log.Warnw("charge sweep failed", "error", err)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (cs *ChargeSweeper) RunNow() {
	cs.sweep()
}
