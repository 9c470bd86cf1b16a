/*
sweep.go - Expiry of pending charges

PURPOSE:
  A pending charge whose deposit never arrives must eventually reach a
  terminal state. There is no inline timeout in the request path; instead
  a scheduled sweep (api/scheduler.go) calls SweepExpired periodically
  and each stale charge is failed through the same settlement path the
  callback uses, so the idempotency guard applies unchanged.
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/keyspot/storefront/ledger"
)

// SweepExpired fails every pending charge created more than ttl ago.
// Returns the number of charges transitioned. A charge settled
// concurrently between the list and the settle is skipped, not an error.
func (e *ChargeEngine) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	expired, err := e.store.ListExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, charge := range expired {
		if _, err := e.Settle(ctx, charge.ID, DecisionReject, SourceSweep); err != nil {
			if errors.Is(err, ledger.ErrAlreadyProcessed) {
				continue
			}
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		e.log.Infow("expired pending charges", "count", swept, "ttl", ttl)
	}
	return swept, nil
}
