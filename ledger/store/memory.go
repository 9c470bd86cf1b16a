// Package store provides an in-memory ledger.TxStore for tests.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.Mutex
	users         map[string]ledger.User
	products      map[int64]ledger.Product
	purchases     []ledger.PurchaseLog
	charges       map[int64]ledger.ChargeLog
	notifications []ledger.Notification
	nextChargeID  int64
}

// Compile-time check that Memory implements ledger.TxStore
var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]ledger.User),
		products:     make(map[int64]ledger.Product),
		charges:      make(map[int64]ledger.ChargeLog),
		nextChargeID: 1,
	}
}

// SeedUser inserts or replaces a user. Test setup only.
func (m *Memory) SeedUser(u ledger.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SeedProduct inserts or replaces a product. Test setup only.
func (m *Memory) SeedProduct(p ledger.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = cloneProduct(p)
}

// Purchases returns a copy of all purchase rows. Test assertions only.
func (m *Memory) Purchases() []ledger.PurchaseLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.PurchaseLog(nil), m.purchases...)
}

// Notifications returns a copy of all notification rows. Test assertions only.
func (m *Memory) Notifications() []ledger.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Notification(nil), m.notifications...)
}

// =============================================================================
// ledger.Store
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id string) (*ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id string) (*ledger.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) UpdateUserPurchase(_ context.Context, id string, balance, totalSpent int64, t tier.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUserPurchaseLocked(id, balance, totalSpent, t)
}

func (m *Memory) updateUserPurchaseLocked(id string, balance, totalSpent int64, t tier.Tier) error {
	u, ok := m.users[id]
	if !ok {
		return ledger.ErrUserNotFound
	}
	u.Balance = balance
	u.TotalSpent = totalSpent
	u.Tier = t
	m.users[id] = u
	return nil
}

func (m *Memory) CreditBalance(_ context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditBalanceLocked(userID, amount)
}

func (m *Memory) creditBalanceLocked(userID string, amount int64) error {
	u, ok := m.users[userID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	u.Balance += amount
	m.users[userID] = u
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id int64) (*ledger.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getProductLocked(id)
}

func (m *Memory) getProductLocked(id int64) (*ledger.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	clone := cloneProduct(p)
	return &clone, nil
}

func (m *Memory) UpdateProductPlan(_ context.Context, productID int64, label string, stock ledger.CodePool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateProductPlanLocked(productID, label, stock)
}

func (m *Memory) updateProductPlanLocked(productID int64, label string, stock ledger.CodePool) error {
	p, ok := m.products[productID]
	if !ok {
		return ledger.ErrProductNotFound
	}
	plan := p.FindPlan(label)
	if plan == nil {
		return ledger.ErrPlanNotFound
	}
	plan.Stock = stock
	m.products[productID] = p
	return nil
}

func (m *Memory) InsertPurchaseLog(_ context.Context, row ledger.PurchaseLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertPurchaseLogLocked(row)
	return nil
}

func (m *Memory) insertPurchaseLogLocked(row ledger.PurchaseLog) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	m.purchases = append(m.purchases, row)
}

func (m *Memory) InsertChargeLog(_ context.Context, row ledger.ChargeLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertChargeLogLocked(row), nil
}

func (m *Memory) insertChargeLogLocked(row ledger.ChargeLog) int64 {
	row.ID = m.nextChargeID
	m.nextChargeID++
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.charges[row.ID] = row
	return row.ID
}

func (m *Memory) GetChargeLog(_ context.Context, id int64) (*ledger.ChargeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getChargeLogLocked(id)
}

func (m *Memory) getChargeLogLocked(id int64) (*ledger.ChargeLog, error) {
	c, ok := m.charges[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) TransitionCharge(_ context.Context, id int64, from, to ledger.ChargeStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionChargeLocked(id, from, to)
}

func (m *Memory) transitionChargeLocked(id int64, from, to ledger.ChargeStatus) (bool, error) {
	c, ok := m.charges[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	m.charges[id] = c
	return true, nil
}

func (m *Memory) ListExpiredPending(_ context.Context, cutoff time.Time) ([]ledger.ChargeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []ledger.ChargeLog
	for _, c := range m.charges {
		if c.Status == ledger.ChargePending && c.CreatedAt.Before(cutoff) {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func (m *Memory) InsertNotification(_ context.Context, n ledger.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn under the store lock against a transactional view.
// A snapshot taken up front is restored when fn fails, so partial writes
// never become visible. Holding the lock for the whole of fn serializes
// transactions the way the SQLite store's write transaction does.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users         map[string]ledger.User
	products      map[int64]ledger.Product
	purchases     []ledger.PurchaseLog
	charges       map[int64]ledger.ChargeLog
	notifications []ledger.Notification
	nextChargeID  int64
}

func (m *Memory) snapshot() memorySnapshot {
	users := make(map[string]ledger.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	products := make(map[int64]ledger.Product, len(m.products))
	for k, v := range m.products {
		products[k] = cloneProduct(v)
	}
	charges := make(map[int64]ledger.ChargeLog, len(m.charges))
	for k, v := range m.charges {
		charges[k] = v
	}
	return memorySnapshot{
		users:         users,
		products:      products,
		purchases:     append([]ledger.PurchaseLog(nil), m.purchases...),
		charges:       charges,
		notifications: append([]ledger.Notification(nil), m.notifications...),
		nextChargeID:  m.nextChargeID,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.products = s.products
	m.purchases = s.purchases
	m.charges = s.charges
	m.notifications = s.notifications
	m.nextChargeID = s.nextChargeID
}

// txMemoryView runs against the already-locked parent.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetUser(_ context.Context, id string) (*ledger.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txMemoryView) UpdateUserPurchase(_ context.Context, id string, balance, totalSpent int64, t tier.Tier) error {
	return tv.parent.updateUserPurchaseLocked(id, balance, totalSpent, t)
}

func (tv *txMemoryView) CreditBalance(_ context.Context, userID string, amount int64) error {
	return tv.parent.creditBalanceLocked(userID, amount)
}

func (tv *txMemoryView) GetProduct(_ context.Context, id int64) (*ledger.Product, error) {
	return tv.parent.getProductLocked(id)
}

func (tv *txMemoryView) UpdateProductPlan(_ context.Context, productID int64, label string, stock ledger.CodePool) error {
	return tv.parent.updateProductPlanLocked(productID, label, stock)
}

func (tv *txMemoryView) InsertPurchaseLog(_ context.Context, row ledger.PurchaseLog) error {
	tv.parent.insertPurchaseLogLocked(row)
	return nil
}

func (tv *txMemoryView) InsertChargeLog(_ context.Context, row ledger.ChargeLog) (int64, error) {
	return tv.parent.insertChargeLogLocked(row), nil
}

func (tv *txMemoryView) GetChargeLog(_ context.Context, id int64) (*ledger.ChargeLog, error) {
	return tv.parent.getChargeLogLocked(id)
}

func (tv *txMemoryView) TransitionCharge(_ context.Context, id int64, from, to ledger.ChargeStatus) (bool, error) {
	return tv.parent.transitionChargeLocked(id, from, to)
}

func (tv *txMemoryView) ListExpiredPending(_ context.Context, cutoff time.Time) ([]ledger.ChargeLog, error) {
	var expired []ledger.ChargeLog
	for _, c := range tv.parent.charges {
		if c.Status == ledger.ChargePending && c.CreatedAt.Before(cutoff) {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func (tv *txMemoryView) InsertNotification(_ context.Context, n ledger.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	tv.parent.notifications = append(tv.parent.notifications, n)
	return nil
}

func cloneProduct(p ledger.Product) ledger.Product {
	clone := p
	clone.Plans = make([]ledger.Plan, len(p.Plans))
	for i, plan := range p.Plans {
		plan.Stock = ledger.NewCodePool(plan.Stock.Codes())
		clone.Plans[i] = plan
	}
	return clone
}
