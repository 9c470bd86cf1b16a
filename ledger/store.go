/*
store.go - Persistence contract for the purchase and charge engines

PURPOSE:
  Defines the narrow interface the engines run against. The SQLite
  implementation carries many more methods for the API layer's CRUD; the
  engines only ever see this contract, always inside a transaction.

TRANSACTION BOUNDARY:
  The decisive correctness hazard in this system is a read-then-write race
  on plan stock and user balance. The guarantee lives here: TxStore.WithTx
  runs fn inside a single database transaction that commits only if fn
  returns nil and rolls back on every other exit path. No in-memory mutex
  substitutes for this in a multi-process deployment.

COMPARE-AND-SET:
  TransitionCharge is a CAS: it updates the status only if the current
  status still equals from, and reports whether a row changed. This is the
  at-most-once guard for balance credits even if two settlements race past
  the initial read.

IMPLEMENTATIONS:
  - store/sqlite: Production store (WAL-mode SQLite)
  - ledger/store: In-memory store for engine tests

SEE ALSO:
  - engine/purchase.go, engine/charge.go: The only callers
*/
package ledger

import (
	"context"
	"time"

	"github.com/keyspot/storefront/tier"
)

// Store is the engine-facing persistence contract. Getters return
// (nil, nil) when the record does not exist.
type Store interface {
	// GetUser returns a user by ID.
	GetUser(ctx context.Context, id string) (*User, error)

	// UpdateUserPurchase writes the post-purchase wallet state: new
	// balance, new cumulative spend, and the recomputed tier.
	UpdateUserPurchase(ctx context.Context, id string, balance, totalSpent int64, t tier.Tier) error

	// CreditBalance adds amount to the user's balance.
	CreditBalance(ctx context.Context, userID string, amount int64) error

	// GetProduct returns a product with its plans decoded.
	GetProduct(ctx context.Context, id int64) (*Product, error)

	// UpdateProductPlan replaces the stock of the plan matching label,
	// leaving the product's other plans untouched.
	UpdateProductPlan(ctx context.Context, productID int64, label string, stock CodePool) error

	// InsertPurchaseLog appends one immutable purchase row.
	InsertPurchaseLog(ctx context.Context, row PurchaseLog) error

	// InsertChargeLog appends a charge row and returns its ID.
	InsertChargeLog(ctx context.Context, row ChargeLog) (int64, error)

	// GetChargeLog returns a charge by ID.
	GetChargeLog(ctx context.Context, id int64) (*ChargeLog, error)

	// TransitionCharge moves a charge from -> to and reports whether the
	// row actually changed. A false result means the charge was no longer
	// in the from state.
	TransitionCharge(ctx context.Context, id int64, from, to ChargeStatus) (bool, error)

	// ListExpiredPending returns pending charges created before cutoff.
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]ChargeLog, error)

	// InsertNotification appends an in-store notification.
	InsertNotification(ctx context.Context, n Notification) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
