/*
Package ledger defines the persisted entities of the storefront and the
store contract the engines run against.

PURPOSE:
  Single source of truth for the data model: users with a wallet balance,
  products with embedded plans backed by a pool of single-use codes,
  immutable purchase logs, status-tracked charge logs, and the
  append-mostly side tables (categories, announcements, notifications,
  visits).

KEY CONCEPTS IN THIS FILE (types.go):
  - User: wallet balance + cumulative spend + derived loyalty tier
  - Product/Plan: catalog entry; each plan owns a CodePool (codepool.go)
  - PurchaseLog: one immutable row per unit purchased
  - ChargeLog: wallet top-up request with a guarded status lifecycle
    (status.go)

MONEY:
  All amounts are int64 minor currency units (KRW has no fraction).
  Balances are non-negative; cumulative spend is non-decreasing. The
  engines enforce both before writing.

SEE ALSO:
  - store.go: Persistence contract and transaction boundary
  - errors.go: Error taxonomy shared by engines and handlers
  - engine/: The only writers of balance, spend, stock and charge status
*/
package ledger

import (
	"time"

	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// USER
// =============================================================================

// User is an account with a wallet. Identity fields (Name, Phone, Carrier,
// Birth) are empty until identity verification completes; a charge request
// requires all four to be set.
type User struct {
	ID           string
	PasswordHash string
	Salt         string
	Balance      int64 // minor units, never negative
	TotalSpent   int64 // minor units, never decreases
	Tier         tier.Tier
	Name         string
	Phone        string
	Carrier      string
	Birth        string
	Email        string
	LastIP       string
	CreatedAt    time.Time
}

// Verified reports whether identity verification has completed.
func (u *User) Verified() bool {
	return u.Name != "" && u.Phone != "" && u.Carrier != "" && u.Birth != ""
}

// =============================================================================
// PRODUCT / PLAN
// =============================================================================

// ProductStatus controls whether a product can be purchased.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// Product is a catalog entry. Plans are embedded, serialized as a single
// JSON blob on the product row; there is no separate plan relation.
// Category references a category by name with no referential integrity.
type Product struct {
	ID            int64
	Name          string
	Price         int64 // base price; plans may differ
	Description   string
	Category      string
	Specification string
	Status        ProductStatus
	Plans         []Plan
}

// Plan is a purchasable duration of a product. Stock is the sole
// authoritative measure of remaining inventory: there is no separate
// counter that could drift from it.
type Plan struct {
	Label string   `json:"day"`
	Price int64    `json:"price"`
	Stock CodePool `json:"stock"`
}

// FindPlan returns the first plan matching label, or nil. Duplicate
// labels resolve to the first match.
func (p *Product) FindPlan(label string) *Plan {
	for i := range p.Plans {
		if p.Plans[i].Label == label {
			return &p.Plans[i]
		}
	}
	return nil
}

// =============================================================================
// PURCHASE LOG - Immutable, one row per unit purchased
// =============================================================================

// PurchaseLog records a single redeemed code. Multi-unit orders produce
// one row per unit, all sharing an OrderID. Rows are never updated or
// deleted.
type PurchaseLog struct {
	ID          string // uuid
	OrderID     string // uuid, groups rows of one purchase call
	UserID      string
	ProductID   int64
	ProductName string // snapshot at purchase time
	PlanLabel   string // snapshot at purchase time
	Quantity    int64  // always 1; the row is the unit
	Price       int64  // unit price paid
	Code        string
	CreatedAt   time.Time
}

// =============================================================================
// CHARGE LOG - Wallet top-up with guarded status lifecycle
// =============================================================================

// PaymentBankTransfer is the only payment method for wallet top-ups.
const PaymentBankTransfer = "bank_transfer"

// ChargeLog is a wallet top-up request. It is created pending and
// transitions exactly once to a terminal state; the balance credit is
// applied at most once, guarded by the status transition (status.go).
type ChargeLog struct {
	ID            int64
	UserID        string
	Amount        int64
	PaymentMethod string
	Status        ChargeStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChargeWithUser is a charge row joined with the payer's identity, for
// the admin pending-approval list.
type ChargeWithUser struct {
	ChargeLog
	UserName  string
	UserPhone string
}

// =============================================================================
// SIDE TABLES
// =============================================================================

// Category is purely referential; deleting one does not cascade to
// products.
type Category struct {
	ID   int64
	Name string
}

// Announcement is a public notice.
type Announcement struct {
	ID        int64
	Title     string
	Content   string
	CreatedAt time.Time
}

// EmergencyAnnouncement is a banner notice shown until EndAt.
type EmergencyAnnouncement struct {
	ID        int64
	Title     string
	Content   string
	CreatedAt time.Time
	EndAt     time.Time
}

// Notification is an in-store message for a user: write-only from the
// engines, read-and-discard from the user.
type Notification struct {
	ID        string // uuid
	UserID    string
	Type      string // "success", "error", "info"
	Title     string
	Message   string
	Data      string // free-form JSON payload
	CreatedAt time.Time
}
