/*
charge.go - Wallet charge engine

PURPOSE:
  Two independent operations sharing the ChargeLog entity:

  RequestCharge: self-service creation of a pending bank-transfer top-up.
  Requires completed identity verification and a minimum amount. After
  the row is inserted, the bank-watcher service is pinged best-effort so
  deposit matching can later call back; a failed ping leaves the charge
  pending and recoverable via admin settlement.

  Settle: approves or rejects a pending charge. The bank-watcher callback,
  the admin panel and the expiry sweep all funnel through this one path,
  which is guarded twice: the terminal-state check surfaces a clean
  AlreadyProcessed error, and the compare-and-set status transition makes
  the balance credit at-most-once even if two settlements race past that
  check inside different transactions.

SEE ALSO:
  - ledger/status.go: The transition table behind the guard
  - sweep.go: Expiry of pending charges that never get a callback
*/
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keyspot/storefront/ledger"
)

// SettleSource identifies where a settlement originated.
type SettleSource string

const (
	SourceCallback SettleSource = "callback" // automatic bank-watcher callback
	SourceAdmin    SettleSource = "admin"    // admin panel action
	SourceSweep    SettleSource = "sweep"    // pending-charge expiry sweep
)

// Decision is the settlement verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// BankWatcher is the outbound interface to the deposit-matching service.
// The call is best-effort; implementations log and drop failures.
type BankWatcher interface {
	NotifyDeposit(ctx context.Context, charge ledger.ChargeLog, payerName string)
}

// ChargeEngine creates and settles wallet top-up charges.
type ChargeEngine struct {
	store     ledger.TxStore
	notifier  Notifier
	watcher   BankWatcher
	minAmount int64
	log       *zap.SugaredLogger
}

// NewChargeEngine creates a charge engine. notifier and watcher may be
// nil; minAmount <= 0 falls back to the 10,000 minor-unit default.
func NewChargeEngine(store ledger.TxStore, notifier Notifier, watcher BankWatcher, minAmount int64, log *zap.SugaredLogger) *ChargeEngine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if minAmount <= 0 {
		minAmount = 10_000
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ChargeEngine{store: store, notifier: notifier, watcher: watcher, minAmount: minAmount, log: log}
}

// MinAmount returns the configured minimum charge amount.
func (e *ChargeEngine) MinAmount() int64 {
	return e.minAmount
}

// RequestCharge inserts a pending charge for the user and pings the
// bank-watcher. The returned charge is pending; it completes via Settle.
func (e *ChargeEngine) RequestCharge(ctx context.Context, userID string, amount int64) (*ledger.ChargeLog, error) {
	if userID == "" {
		return nil, ledger.ErrUnauthenticated
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ledger.ErrUnauthenticated
	}
	if !user.Verified() {
		return nil, ledger.ErrVerificationRequired
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", ledger.ErrInvalidInput)
	}
	if amount < e.minAmount {
		return nil, fmt.Errorf("minimum charge is %d: %w", e.minAmount, ledger.ErrBelowMinimum)
	}

	charge := ledger.ChargeLog{
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: ledger.PaymentBankTransfer,
		Status:        ledger.ChargePending,
	}
	id, err := e.store.InsertChargeLog(ctx, charge)
	if err != nil {
		return nil, err
	}
	charge.ID = id

	e.log.Infow("charge requested", "charge_id", id, "user_id", userID, "amount", amount)

	// Best-effort: a failed ping leaves the charge pending, to be settled
	// by an admin instead of the automatic callback.
	if e.watcher != nil {
		go e.watcher.NotifyDeposit(context.WithoutCancel(ctx), charge, user.Name)
	}
	go e.notifier.ChargeRequested(charge, user.Name)

	return &charge, nil
}

// Settle moves a pending charge to its terminal state. Approve credits
// the user's balance; reject does not. A charge already in a terminal
// state fails with AlreadyProcessedError regardless of source - the same
// external callback may arrive more than once, and re-approval must be
// rejected, not re-applied.
func (e *ChargeEngine) Settle(ctx context.Context, chargeID int64, decision Decision, source SettleSource) (*ledger.ChargeLog, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("unknown decision %q: %w", decision, ledger.ErrInvalidInput)
	}

	target := ledger.ChargeCompleted
	if decision == DecisionReject {
		// Automatic failure signals mark the charge failed; a human
		// rejection marks it rejected.
		if source == SourceAdmin {
			target = ledger.ChargeRejected
		} else {
			target = ledger.ChargeFailed
		}
	}

	var settled ledger.ChargeLog
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		charge, err := s.GetChargeLog(ctx, chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return ledger.ErrChargeNotFound
		}
		if charge.Status.Terminal() {
			return &ledger.AlreadyProcessedError{ChargeID: chargeID, Status: charge.Status}
		}
		if !charge.Status.CanTransition(target) {
			return &ledger.AlreadyProcessedError{ChargeID: chargeID, Status: charge.Status}
		}

		// CAS: if another settlement got here first, no row changes and
		// the credit below never runs.
		changed, err := s.TransitionCharge(ctx, chargeID, charge.Status, target)
		if err != nil {
			return err
		}
		if !changed {
			return &ledger.AlreadyProcessedError{ChargeID: chargeID, Status: charge.Status}
		}

		if decision == DecisionApprove {
			if err := s.CreditBalance(ctx, charge.UserID, charge.Amount); err != nil {
				return err
			}
		}

		settled = *charge
		settled.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Infow("charge settled",
		"charge_id", settled.ID,
		"user_id", settled.UserID,
		"amount", settled.Amount,
		"status", settled.Status,
		"source", source,
	)

	go e.notifier.ChargeSettled(settled, decision == DecisionApprove, source)

	return &settled, nil
}
