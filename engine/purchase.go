/*
Package engine implements the purchase and wallet charge engines.

PURPOSE:
  The money-and-inventory core of the storefront. Given a concurrent
  stream of purchase and charge-settlement requests, the engines must
  atomically decrement a finite code pool per plan, debit/credit user
  balances, promote loyalty tiers, and do all of it at most once.

CONCURRENCY DISCIPLINE:
  Every read-validate-write sequence runs inside a single store
  transaction (ledger.TxStore.WithTx). State is re-read inside the
  transaction; nothing is carried across calls. Two purchases racing on
  the same plan serialize at the transaction boundary, so the pool can
  never go negative and no code is ever issued twice.

SIDE CHANNELS:
  Notifications, Discord webhooks and the bank-watcher ping are
  best-effort and strictly post-commit: they run on detached goroutines
  and their failures are logged and dropped, never propagated into the
  committed result.

SEE ALSO:
  - ledger/store.go: The transaction boundary the engines rely on
  - tier/: Loyalty classification invoked after each purchase
  - notify/: The Notifier implementation
*/
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// NOTIFIER - Post-commit side channel
// =============================================================================

// Notifier receives best-effort signals after a transaction commits.
// Implementations must do their own failure handling; the engines ignore
// everything a Notifier does.
type Notifier interface {
	PurchaseCompleted(res PurchaseResult)
	ChargeRequested(charge ledger.ChargeLog, payerName string)
	ChargeSettled(charge ledger.ChargeLog, approved bool, source SettleSource)
}

// nopNotifier is used when no notifier is wired (tests).
type nopNotifier struct{}

func (nopNotifier) PurchaseCompleted(PurchaseResult)                   {}
func (nopNotifier) ChargeRequested(ledger.ChargeLog, string)           {}
func (nopNotifier) ChargeSettled(ledger.ChargeLog, bool, SettleSource) {}

// =============================================================================
// PURCHASE ENGINE
// =============================================================================

// PurchaseResult is the committed outcome of a purchase call.
type PurchaseResult struct {
	OrderID          string
	UserID           string
	UserName         string
	ProductID        int64
	ProductName      string
	PlanLabel        string
	Quantity         int
	UnitPrice        int64
	TotalPrice       int64
	Codes            []string
	RemainingBalance int64
	RemainingStock   int
	TotalSpent       int64
	Tier             tier.Tier
	TierChanged      bool
}

// PurchaseEngine validates purchase requests and commits them as a single
// transaction. It holds no state across calls.
type PurchaseEngine struct {
	store    ledger.TxStore
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewPurchaseEngine creates a purchase engine. notifier may be nil.
func NewPurchaseEngine(store ledger.TxStore, notifier Notifier, log *zap.SugaredLogger) *PurchaseEngine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PurchaseEngine{store: store, notifier: notifier, log: log}
}

// Purchase buys quantity units of the plan matching planLabel on product
// productID, paid from the user's wallet.
//
// Preconditions are checked in order, each producing a distinct failure:
// authentication, quantity, product existence, product status, plan
// existence, stock, balance. On success exactly quantity codes are drawn
// at random from the plan's pool, the wallet is debited, the tier is
// recomputed from the new cumulative spend, and one purchase row per unit
// is appended - all in one transaction. There is no compensating
// "return code to pool" operation: once committed, the result stands.
func (e *PurchaseEngine) Purchase(ctx context.Context, userID string, productID int64, planLabel string, quantity int) (*PurchaseResult, error) {
	if userID == "" {
		return nil, ledger.ErrUnauthenticated
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", ledger.ErrInvalidInput)
	}

	var res PurchaseResult
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ledger.ErrUnauthenticated
		}

		product, err := s.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return ledger.ErrProductNotFound
		}
		if product.Status != ledger.ProductActive {
			return ledger.ErrProductUnavailable
		}

		plan := product.FindPlan(planLabel)
		if plan == nil {
			return ledger.ErrPlanNotFound
		}

		if plan.Stock.Size() < quantity {
			return &ledger.InsufficientStockError{Available: plan.Stock.Size(), Requested: quantity}
		}

		totalPrice := plan.Price * int64(quantity)
		if user.Balance < totalPrice {
			return &ledger.InsufficientBalanceError{Required: totalPrice, Current: user.Balance}
		}

		codes, err := plan.Stock.Allocate(quantity)
		if err != nil {
			return err
		}
		if err := s.UpdateProductPlan(ctx, productID, planLabel, plan.Stock); err != nil {
			return err
		}

		newBalance := user.Balance - totalPrice
		newSpent := user.TotalSpent + totalPrice
		newTier := tier.Classify(newSpent)
		if err := s.UpdateUserPurchase(ctx, userID, newBalance, newSpent, newTier); err != nil {
			return err
		}

		orderID := uuid.NewString()
		for _, code := range codes {
			row := ledger.PurchaseLog{
				ID:          uuid.NewString(),
				OrderID:     orderID,
				UserID:      userID,
				ProductID:   productID,
				ProductName: product.Name,
				PlanLabel:   planLabel,
				Quantity:    1,
				Price:       plan.Price,
				Code:        code,
			}
			if err := s.InsertPurchaseLog(ctx, row); err != nil {
				return err
			}
		}

		res = PurchaseResult{
			OrderID:          orderID,
			UserID:           userID,
			UserName:         user.Name,
			ProductID:        productID,
			ProductName:      product.Name,
			PlanLabel:        planLabel,
			Quantity:         quantity,
			UnitPrice:        plan.Price,
			TotalPrice:       totalPrice,
			Codes:            codes,
			RemainingBalance: newBalance,
			RemainingStock:   plan.Stock.Size(),
			TotalSpent:       newSpent,
			Tier:             newTier,
			TierChanged:      newTier != user.Tier,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Infow("purchase committed",
		"order_id", res.OrderID,
		"user_id", res.UserID,
		"product_id", res.ProductID,
		"plan", res.PlanLabel,
		"quantity", res.Quantity,
		"total_price", res.TotalPrice,
	)

	// Post-commit, fire-and-forget. A notifier failure never rolls back
	// the committed purchase.
	go e.notifier.PurchaseCompleted(res)

	return &res, nil
}
