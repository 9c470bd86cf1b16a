package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/store/sqlite"
	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, id string, balance int64) {
	t.Helper()
	require.NoError(t, store.CreateUser(context.Background(), ledger.User{
		ID:           id,
		PasswordHash: "hash",
		Salt:         "salt",
		Balance:      balance,
		Tier:         tier.TierNone,
	}))
}

func seedProduct(t *testing.T, store *sqlite.Store, name string, codes []string) int64 {
	t.Helper()
	id, err := store.SaveProduct(context.Background(), ledger.Product{
		Name:     name,
		Price:    1_000,
		Category: "keys",
		Status:   ledger.ProductActive,
		Plans: []ledger.Plan{
			{Label: "30", Price: 1_000, Stock: ledger.NewCodePool(codes)},
			{Label: "90", Price: 2_500, Stock: ledger.NewCodePool([]string{"long-1"})},
		},
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// USER TESTS
// =============================================================================

func TestStore_UserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice", 5_000)

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(5_000), u.Balance)
	assert.Equal(t, tier.TierNone, u.Tier)
	assert.False(t, u.Verified())
	assert.False(t, u.CreatedAt.IsZero())

	// Missing user is (nil, nil), not an error.
	u, err = store.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)

	// Duplicate ID conflicts.
	err = store.CreateUser(ctx, ledger.User{ID: "alice", PasswordHash: "h", Salt: "s"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateID)
}

func TestStore_UserUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 5_000)

	require.NoError(t, store.UpdateUserPurchase(ctx, "alice", 3_000, 2_000, tier.TierBuyer))
	require.NoError(t, store.CreditBalance(ctx, "alice", 10_000))
	require.NoError(t, store.UpdateUserIdentity(ctx, "alice", "Kim", "010-1234-5678", "SKT", "990101"))
	require.NoError(t, store.UpdateUserPassword(ctx, "alice", "newhash", "newsalt"))
	require.NoError(t, store.UpdateUserLastIP(ctx, "alice", "10.0.0.7"))

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(13_000), u.Balance)
	assert.Equal(t, int64(2_000), u.TotalSpent)
	assert.Equal(t, tier.TierBuyer, u.Tier)
	assert.True(t, u.Verified())
	assert.Equal(t, "newhash", u.PasswordHash)
	assert.Equal(t, "10.0.0.7", u.LastIP)

	// Writes against missing users surface not-found.
	assert.ErrorIs(t, store.UpdateUserPurchase(ctx, "ghost", 0, 0, tier.TierNone), ledger.ErrUserNotFound)
	assert.ErrorIs(t, store.CreditBalance(ctx, "ghost", 1), ledger.ErrUserNotFound)
	assert.ErrorIs(t, store.AdjustUser(ctx, "ghost", 1, tier.TierVIP), ledger.ErrUserNotFound)
}

func TestStore_AdjustUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 5_000)

	require.NoError(t, store.AdjustUser(ctx, "alice", 99_000, tier.TierVVIP))

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(99_000), u.Balance)
	assert.Equal(t, tier.TierVVIP, u.Tier)
}

// =============================================================================
// PRODUCT TESTS
// =============================================================================

func TestStore_ProductRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := seedProduct(t, store, "Test Key", []string{"A", "B", "C"})

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Test Key", p.Name)
	require.Len(t, p.Plans, 2)
	assert.Equal(t, 3, p.Plans[0].Stock.Size())
	assert.Equal(t, 1, p.Plans[1].Stock.Size())

	p, err = store.GetProduct(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStore_ListProducts_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedProduct(t, store, "Active Key", []string{"A"})
	_, err := store.SaveProduct(ctx, ledger.Product{
		Name: "Hidden Key", Category: "other", Status: ledger.ProductInactive,
		Plans: []ledger.Plan{},
	})
	require.NoError(t, err)

	all, err := store.ListProducts(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.ListProducts(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Active Key", active[0].Name)

	keys, err := store.ListProducts(ctx, "keys", true)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	none, err := store.ListProducts(ctx, "missing", false)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_UpdateProductPlan_LeavesSiblingsUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := seedProduct(t, store, "Test Key", []string{"A", "B", "C"})

	require.NoError(t, store.UpdateProductPlan(ctx, id, "30", ledger.NewCodePool([]string{"A"})))

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Plans[0].Stock.Size())
	assert.Equal(t, 1, p.Plans[1].Stock.Size(), "sibling plan must be untouched")

	assert.ErrorIs(t, store.UpdateProductPlan(ctx, id, "365", ledger.CodePool{}), ledger.ErrPlanNotFound)
	assert.ErrorIs(t, store.UpdateProductPlan(ctx, 9999, "30", ledger.CodePool{}), ledger.ErrProductNotFound)
}

// =============================================================================
// PURCHASE LOG TESTS
// =============================================================================

func TestStore_PurchaseLogsAndTopProducts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keyID := seedProduct(t, store, "Popular Key", []string{"A", "B", "C"})
	otherID := seedProduct(t, store, "Slow Key", []string{"X"})

	for i, code := range []string{"A", "B", "C"} {
		require.NoError(t, store.InsertPurchaseLog(ctx, ledger.PurchaseLog{
			ID: "row-" + code, OrderID: "order-1", UserID: "alice",
			ProductID: keyID, ProductName: "Popular Key", PlanLabel: "30",
			Quantity: 1, Price: 1_000, Code: code,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.InsertPurchaseLog(ctx, ledger.PurchaseLog{
		ID: "row-X", OrderID: "order-2", UserID: "bob",
		ProductID: otherID, ProductName: "Slow Key", PlanLabel: "30",
		Quantity: 1, Price: 2_000, Code: "X",
	}))

	logs, err := store.ListPurchaseLogs(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "order-1", logs[0].OrderID)
	// Newest first.
	assert.Equal(t, "C", logs[0].Code)

	top, err := store.TopProducts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, keyID, top[0].ProductID)
	assert.Equal(t, int64(3), top[0].Units)
	assert.Equal(t, int64(3_000), top[0].Revenue)
	assert.Equal(t, int64(2_000), top[1].Revenue)
}

// =============================================================================
// CHARGE LOG TESTS
// =============================================================================

func TestStore_ChargeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 0)

	id, err := store.InsertChargeLog(ctx, ledger.ChargeLog{
		UserID: "alice", Amount: 50_000,
		PaymentMethod: ledger.PaymentBankTransfer, Status: ledger.ChargePending,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	c, err := store.GetChargeLog(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ledger.ChargePending, c.Status)

	// CAS succeeds from the expected status...
	changed, err := store.TransitionCharge(ctx, id, ledger.ChargePending, ledger.ChargeCompleted)
	require.NoError(t, err)
	assert.True(t, changed)

	// ...and is a no-op once the status moved on.
	changed, err = store.TransitionCharge(ctx, id, ledger.ChargePending, ledger.ChargeCompleted)
	require.NoError(t, err)
	assert.False(t, changed)

	c, err = store.GetChargeLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.ChargeCompleted, c.Status)

	c, err = store.GetChargeLog(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestStore_ListAllCharges_JoinsUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 0)
	require.NoError(t, store.UpdateUserIdentity(ctx, "alice", "Kim", "010-1234-5678", "SKT", "990101"))

	_, err := store.InsertChargeLog(ctx, ledger.ChargeLog{
		UserID: "alice", Amount: 50_000,
		PaymentMethod: ledger.PaymentBankTransfer, Status: ledger.ChargePending,
	})
	require.NoError(t, err)

	charges, err := store.ListAllCharges(ctx)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "Kim", charges[0].UserName)
	assert.Equal(t, "010-1234-5678", charges[0].UserPhone)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 5_000)
	id := seedProduct(t, store, "Test Key", []string{"A", "B"})

	sentinel := ledger.ErrInvalidInput
	err := store.WithTx(ctx, func(s ledger.Store) error {
		require.NoError(t, s.UpdateUserPurchase(ctx, "alice", 0, 5_000, tier.TierBuyer))
		require.NoError(t, s.UpdateProductPlan(ctx, id, "30", ledger.NewCodePool(nil)))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	// Nothing from the failed transaction is visible.
	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), u.Balance)

	p, err := store.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Plans[0].Stock.Size())
}

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 5_000)

	err := store.WithTx(ctx, func(s ledger.Store) error {
		if err := s.UpdateUserPurchase(ctx, "alice", 4_000, 1_000, tier.TierBuyer); err != nil {
			return err
		}
		return s.InsertPurchaseLog(ctx, ledger.PurchaseLog{
			ID: "row-1", OrderID: "order-1", UserID: "alice",
			ProductID: 1, ProductName: "Test Key", PlanLabel: "30",
			Quantity: 1, Price: 1_000, Code: "A",
		})
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), u.Balance)

	logs, err := store.ListPurchaseLogs(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestStore_ListExpiredPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "alice", 0)

	id, err := store.InsertChargeLog(ctx, ledger.ChargeLog{
		UserID: "alice", Amount: 20_000,
		PaymentMethod: ledger.PaymentBankTransfer, Status: ledger.ChargePending,
	})
	require.NoError(t, err)

	// Cutoff in the past excludes the just-created charge.
	expired, err := store.ListExpiredPending(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	// Cutoff in the future includes it.
	expired, err = store.ListExpiredPending(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
}

// =============================================================================
// SIDE TABLE TESTS
// =============================================================================

func TestStore_Notifications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertNotification(ctx, ledger.Notification{
		ID: "n-1", UserID: "alice", Type: "success", Title: "Hello", Message: "World", Data: "{}",
	}))
	require.NoError(t, store.InsertNotification(ctx, ledger.Notification{
		ID: "n-2", UserID: "bob", Type: "info", Title: "Other", Message: "User", Data: "{}",
	}))

	list, err := store.ListNotifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hello", list[0].Title)

	require.NoError(t, store.ClearNotifications(ctx, "alice"))

	list, err = store.ListNotifications(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Bob's notifications survive Alice's clear.
	list, err = store.ListNotifications(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_Categories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateCategory(ctx, "keys")
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = store.CreateCategory(ctx, "keys")
	assert.ErrorIs(t, err, ledger.ErrDuplicateID)

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)

	require.NoError(t, store.DeleteCategory(ctx, id))
	cats, err = store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestStore_Announcements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateAnnouncement(ctx, "Maintenance", "Back at noon")
	require.NoError(t, err)

	a, err := store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Maintenance", a.Title)

	list, err := store.ListAnnouncements(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteAnnouncement(ctx, id))
	a, err = store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestStore_EmergencyAnnouncement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No banner yet.
	e, err := store.ActiveEmergencyAnnouncement(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	// An expired banner stays invisible.
	_, err = store.SetEmergencyAnnouncement(ctx, "Old", "expired", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	e, err = store.ActiveEmergencyAnnouncement(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	// A live banner is returned.
	_, err = store.SetEmergencyAnnouncement(ctx, "Live", "now", time.Now().Add(time.Hour))
	require.NoError(t, err)
	e, err = store.ActiveEmergencyAnnouncement(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Live", e.Title)
}

func TestStore_Visits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1"))
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.2"))
	// Revisit from the same IP does not double-count.
	require.NoError(t, store.RecordVisit(ctx, "10.0.0.1"))

	today, total, err := store.VisitCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), today)
	assert.Equal(t, int64(2), total)
}
