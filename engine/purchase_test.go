/*
purchase_test.go - Purchase engine tests

CORE DESIGN:
- Preconditions are checked in a fixed order, each with a distinct error
- Stock, balance, tier and purchase rows commit atomically
- Concurrent purchases can never oversell a pool or double-issue a code
*/
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/ledger/store"
	"github.com/keyspot/storefront/tier"
)

func newTestProduct(id int64, status ledger.ProductStatus, planPrice int64, codes []string) ledger.Product {
	return ledger.Product{
		ID:       id,
		Name:     "Test Key",
		Price:    planPrice,
		Category: "keys",
		Status:   status,
		Plans: []ledger.Plan{
			{Label: "30", Price: planPrice, Stock: ledger.NewCodePool(codes)},
		},
	}
}

// =============================================================================
// SUCCESS PATH
// =============================================================================

func TestPurchase_Success(t *testing.T) {
	// GIVEN: A user with 5,000 balance and a plan at 1,000 with 3 codes
	// WHEN: Buying 2 units
	// THEN: 2 codes issued, balance 3,000, stock 1, two rows share one order

	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 5_000, Tier: tier.TierNone})
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 1_000, []string{"A", "B", "C"}))

	e := NewPurchaseEngine(mem, nil, nil)
	res, err := e.Purchase(context.Background(), "alice", 1, "30", 2)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	if len(res.Codes) != 2 {
		t.Fatalf("Expected 2 codes, got %d", len(res.Codes))
	}
	if res.Codes[0] == res.Codes[1] {
		t.Errorf("Same code issued twice: %s", res.Codes[0])
	}
	if res.TotalPrice != 2_000 {
		t.Errorf("Expected total 2000, got %d", res.TotalPrice)
	}
	if res.RemainingBalance != 3_000 {
		t.Errorf("Expected remaining balance 3000, got %d", res.RemainingBalance)
	}
	if res.RemainingStock != 1 {
		t.Errorf("Expected remaining stock 1, got %d", res.RemainingStock)
	}
	if res.Tier != tier.TierBuyer || !res.TierChanged {
		t.Errorf("Expected promotion to buyer, got tier=%s changed=%v", res.Tier, res.TierChanged)
	}

	rows := mem.Purchases()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 purchase rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.OrderID != res.OrderID {
			t.Errorf("Row %s has order %s, expected %s", row.ID, row.OrderID, res.OrderID)
		}
		if row.Quantity != 1 {
			t.Errorf("Each row must be one unit, got %d", row.Quantity)
		}
		if row.Price != 1_000 {
			t.Errorf("Expected unit price 1000, got %d", row.Price)
		}
	}

	user, _ := mem.GetUser(context.Background(), "alice")
	if user.Balance != 3_000 || user.TotalSpent != 2_000 {
		t.Errorf("Persisted wallet wrong: balance=%d spent=%d", user.Balance, user.TotalSpent)
	}
}

func TestPurchase_TierPromotionOnThreshold(t *testing.T) {
	// GIVEN: A buyer whose cumulative spend is just under the VIP threshold
	// WHEN: A purchase pushes spend to exactly 300,000
	// THEN: The result reports the VIP promotion

	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "bob", Balance: 10_000, TotalSpent: 295_000, Tier: tier.TierBuyer})
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 5_000, []string{"A"}))

	e := NewPurchaseEngine(mem, nil, nil)
	res, err := e.Purchase(context.Background(), "bob", 1, "30", 1)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	if res.Tier != tier.TierVIP {
		t.Errorf("Expected vip at 300000 spend, got %s", res.Tier)
	}
	if !res.TierChanged {
		t.Error("Expected TierChanged to be set")
	}
}

// =============================================================================
// PRECONDITION FAILURES
// =============================================================================

func TestPurchase_Unauthenticated(t *testing.T) {
	mem := store.NewMemory()
	e := NewPurchaseEngine(mem, nil, nil)

	if _, err := e.Purchase(context.Background(), "", 1, "30", 1); !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Errorf("Empty user: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := e.Purchase(context.Background(), "ghost", 1, "30", 1); !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Errorf("Unknown user: expected ErrUnauthenticated, got %v", err)
	}
}

func TestPurchase_InvalidInput(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 5_000})
	e := NewPurchaseEngine(mem, nil, nil)

	if _, err := e.Purchase(context.Background(), "alice", 1, "30", 0); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("Zero quantity: expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.Purchase(context.Background(), "alice", 1, "30", -1); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("Negative quantity: expected ErrInvalidInput, got %v", err)
	}
}

func TestPurchase_ProductChecks(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 5_000})
	mem.SeedProduct(newTestProduct(2, ledger.ProductInactive, 1_000, []string{"A"}))
	e := NewPurchaseEngine(mem, nil, nil)

	if _, err := e.Purchase(context.Background(), "alice", 99, "30", 1); !errors.Is(err, ledger.ErrProductNotFound) {
		t.Errorf("Missing product: expected ErrProductNotFound, got %v", err)
	}
	if _, err := e.Purchase(context.Background(), "alice", 2, "30", 1); !errors.Is(err, ledger.ErrProductUnavailable) {
		t.Errorf("Inactive product: expected ErrProductUnavailable, got %v", err)
	}
}

func TestPurchase_PlanNotFound(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 5_000})
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 1_000, []string{"A"}))
	e := NewPurchaseEngine(mem, nil, nil)

	if _, err := e.Purchase(context.Background(), "alice", 1, "90", 1); !errors.Is(err, ledger.ErrPlanNotFound) {
		t.Errorf("Expected ErrPlanNotFound, got %v", err)
	}
	// An empty label matches no plan on an existing product.
	if _, err := e.Purchase(context.Background(), "alice", 1, "", 1); !errors.Is(err, ledger.ErrPlanNotFound) {
		t.Errorf("Empty plan: expected ErrPlanNotFound, got %v", err)
	}
	// Against a missing product the product check fires first.
	if _, err := e.Purchase(context.Background(), "alice", 99, "", 1); !errors.Is(err, ledger.ErrProductNotFound) {
		t.Errorf("Empty plan, missing product: expected ErrProductNotFound, got %v", err)
	}
}

func TestPurchase_InsufficientStock(t *testing.T) {
	// GIVEN: A plan with a single remaining code
	// WHEN: Buying 2
	// THEN: InsufficientStockError reporting available=1, nothing changes

	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 50_000})
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 1_000, []string{"A"}))
	e := NewPurchaseEngine(mem, nil, nil)

	_, err := e.Purchase(context.Background(), "alice", 1, "30", 2)

	var stockErr *ledger.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 1 || stockErr.Requested != 2 {
		t.Errorf("Expected available=1 requested=2, got %d/%d", stockErr.Available, stockErr.Requested)
	}

	user, _ := mem.GetUser(context.Background(), "alice")
	if user.Balance != 50_000 {
		t.Errorf("Balance must be untouched on failure, got %d", user.Balance)
	}
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	// GIVEN: Stock ["A","B"], plan price 1,000, balance 1,500
	// WHEN: Buying 2 (total 2,000)
	// THEN: InsufficientBalanceError with shortfall 500; stock untouched

	mem := store.NewMemory()
	mem.SeedUser(ledger.User{ID: "alice", Balance: 1_500})
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 1_000, []string{"A", "B"}))
	e := NewPurchaseEngine(mem, nil, nil)

	_, err := e.Purchase(context.Background(), "alice", 1, "30", 2)

	var balErr *ledger.InsufficientBalanceError
	if !errors.As(err, &balErr) {
		t.Fatalf("Expected InsufficientBalanceError, got %v", err)
	}
	if balErr.Required != 2_000 || balErr.Current != 1_500 {
		t.Errorf("Expected required=2000 current=1500, got %d/%d", balErr.Required, balErr.Current)
	}
	if balErr.Shortfall() != 500 {
		t.Errorf("Expected shortfall 500, got %d", balErr.Shortfall())
	}

	product, _ := mem.GetProduct(context.Background(), 1)
	if product.Plans[0].Stock.Size() != 2 {
		t.Errorf("Stock must be untouched on failure, got %d", product.Plans[0].Stock.Size())
	}
	if len(mem.Purchases()) != 0 {
		t.Error("No purchase rows may exist after a failed purchase")
	}
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestPurchase_ConcurrentNoOversell(t *testing.T) {
	// GIVEN: A pool of 10 codes and 25 buyers racing for 1 each
	// WHEN: All purchases run concurrently
	// THEN: Exactly 10 succeed, every issued code is unique, pool is empty

	const stockSize = 10
	const buyers = 25

	codes := make([]string, stockSize)
	for i := range codes {
		codes[i] = string(rune('a' + i))
	}

	mem := store.NewMemory()
	mem.SeedProduct(newTestProduct(1, ledger.ProductActive, 1_000, codes))
	for i := 0; i < buyers; i++ {
		mem.SeedUser(ledger.User{ID: string(rune('A' + i)), Balance: 1_000})
	}

	e := NewPurchaseEngine(mem, nil, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		issued   []string
		failures int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			res, err := e.Purchase(context.Background(), userID, 1, "30", 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, ledger.ErrInsufficientStock) {
					t.Errorf("Unexpected failure for %s: %v", userID, err)
				}
				failures++
				return
			}
			issued = append(issued, res.Codes...)
		}(string(rune('A' + i)))
	}
	wg.Wait()

	if len(issued) != stockSize {
		t.Errorf("Expected exactly %d successful purchases, got %d", stockSize, len(issued))
	}
	if failures != buyers-stockSize {
		t.Errorf("Expected %d stock failures, got %d", buyers-stockSize, failures)
	}

	seen := make(map[string]bool)
	for _, c := range issued {
		if seen[c] {
			t.Errorf("Code %s issued twice", c)
		}
		seen[c] = true
	}

	product, _ := mem.GetProduct(context.Background(), 1)
	if product.Plans[0].Stock.Size() != 0 {
		t.Errorf("Expected empty pool, got %d", product.Plans[0].Stock.Size())
	}
}
