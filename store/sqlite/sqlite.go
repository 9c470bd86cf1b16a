/*
Package sqlite provides the SQLite-backed implementation of the ledger
store.

PURPOSE:
  Implements ledger.TxStore plus the wider catalog/account/announcement
  surface the API layer needs. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:           Wallet balance, cumulative spend, tier, identity fields
  products:        Catalog rows; plans serialized as one JSON blob per row
  categories:      Referential only, no cascading constraints
  purchase_logs:   Immutable, one row per unit purchased
  charge_logs:     Status-tracked wallet top-ups
  notifications:   Write-once user messages
  announcements:   Public notices (+ emergency banner with end time)
  visits:          Visitor counter, keyed by IP

TRANSACTION DISCIPLINE:
  WithTx wraps a database transaction with commit-or-rollback on every
  exit path; the engines do all stock/balance mutation inside it. The
  charge status update is a compare-and-set (the row changes only if the
  status still equals the expected value), which keeps the balance credit
  at-most-once.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery. The sync.RWMutex on top
  serializes writers within this process; the transactional guarantees do
  not depend on it.

SEE ALSO:
  - ledger/store.go: The contract the engines compile against
  - ledger/store/memory.go: In-memory implementation for engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/tier"
)

// Store implements ledger.TxStore and the API-facing queries.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time check that Store implements ledger.TxStore
var _ ledger.TxStore = (*Store)(nil)

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT 'none',
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		carrier TEXT NOT NULL DEFAULT '',
		birth TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		last_ip TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	-- Plans are a JSON blob per product row, not normalized. The blob is
	-- the sole authority on remaining stock.
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		specification TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		plans_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

	-- Immutable: no UPDATE or DELETE is ever issued against this table.
	CREATE TABLE IF NOT EXISTS purchase_logs (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		product_id INTEGER NOT NULL,
		product_name TEXT NOT NULL,
		plan_label TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price INTEGER NOT NULL,
		code TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchase_logs_user
		ON purchase_logs(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_purchase_logs_product
		ON purchase_logs(product_id);

	CREATE TABLE IF NOT EXISTS charge_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charge_logs_user
		ON charge_logs(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_charge_logs_status
		ON charge_logs(status, created_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'info',
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS announcements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emergency_announcements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		end_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS visits (
		ip TEXT PRIMARY KEY,
		time TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts a new account. Returns ledger.ErrDuplicateID when
// the ID is taken.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, password_hash, salt, balance, total_spent, tier,
			name, phone, carrier, birth, email, last_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.PasswordHash, u.Salt, u.Balance, u.TotalSpent, string(u.Tier),
		u.Name, u.Phone, u.Carrier, u.Birth, u.Email, u.LastIP, now(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ledger.ErrDuplicateID
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. Returns (nil, nil) when missing.
func (s *Store) GetUser(ctx context.Context, id string) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getUser(ctx, s.db, id)
}

func (s *Store) getUser(ctx context.Context, db dbtx, id string) (*ledger.User, error) {
	var (
		u         ledger.User
		tierStr   string
		createdAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, password_hash, salt, balance, total_spent, tier,
			name, phone, carrier, birth, email, last_ip, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.PasswordHash, &u.Salt, &u.Balance, &u.TotalSpent, &tierStr,
		&u.Name, &u.Phone, &u.Carrier, &u.Birth, &u.Email, &u.LastIP, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Tier = tier.Tier(tierStr)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// ListUsers returns all accounts, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, password_hash, salt, balance, total_spent, tier,
			name, phone, carrier, birth, email, last_ip, created_at
		FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var (
			u         ledger.User
			tierStr   string
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.PasswordHash, &u.Salt, &u.Balance, &u.TotalSpent, &tierStr,
			&u.Name, &u.Phone, &u.Carrier, &u.Birth, &u.Email, &u.LastIP, &createdAt); err != nil {
			return nil, err
		}
		u.Tier = tier.Tier(tierStr)
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserPurchase writes the post-purchase wallet state.
func (s *Store) UpdateUserPurchase(ctx context.Context, id string, balance, totalSpent int64, t tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateUserPurchase(ctx, s.db, id, balance, totalSpent, t)
}

func (s *Store) updateUserPurchase(ctx context.Context, db dbtx, id string, balance, totalSpent int64, t tier.Tier) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET balance = ?, total_spent = ?, tier = ? WHERE id = ?",
		balance, totalSpent, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

// CreditBalance adds amount to the user's balance.
func (s *Store) CreditBalance(ctx context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creditBalance(ctx, s.db, userID, amount)
}

func (s *Store) creditBalance(ctx context.Context, db dbtx, userID string, amount int64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET balance = balance + ? WHERE id = ?", amount, userID)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

// UpdateUserPassword replaces the stored credential.
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, salt = ? WHERE id = ?", passwordHash, salt, id)
	return err
}

// UpdateUserIdentity records the identity-verification result.
func (s *Store) UpdateUserIdentity(ctx context.Context, id, name, phone, carrier, birth string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = ?, phone = ?, carrier = ?, birth = ? WHERE id = ?",
		name, phone, carrier, birth, id)
	return err
}

// UpdateUserLastIP records the caller's address at login.
func (s *Store) UpdateUserLastIP(ctx context.Context, id, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "UPDATE users SET last_ip = ? WHERE id = ?", ip, id)
	return err
}

// AdjustUser applies an admin balance/tier edit.
func (s *Store) AdjustUser(ctx context.Context, id string, balance int64, t tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET balance = ?, tier = ? WHERE id = ?", balance, string(t), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = "id, name, price, description, category, specification, status, plans_json"

func scanProduct(scan func(...any) error) (*ledger.Product, error) {
	var (
		p         ledger.Product
		status    string
		plansJSON string
	)
	if err := scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.Category,
		&p.Specification, &status, &plansJSON); err != nil {
		return nil, err
	}
	p.Status = ledger.ProductStatus(status)
	if err := json.Unmarshal([]byte(plansJSON), &p.Plans); err != nil {
		return nil, fmt.Errorf("corrupt plan blob for product %d: %w", p.ID, err)
	}
	return &p, nil
}

// GetProduct retrieves a product with decoded plans. (nil, nil) when missing.
func (s *Store) GetProduct(ctx context.Context, id int64) (*ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getProduct(ctx, s.db, id)
}

func (s *Store) getProduct(ctx context.Context, db dbtx, id int64) (*ledger.Product, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProducts returns catalog rows, optionally filtered by category and
// restricted to active products.
func (s *Store) ListProducts(ctx context.Context, category string, activeOnly bool) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + productColumns + " FROM products"
	var (
		conds []string
		args  []any
	)
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if activeOnly {
		conds = append(conds, "status = ?")
		args = append(args, string(ledger.ProductActive))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// SaveProduct inserts (ID == 0) or fully replaces a product row,
// returning its ID. Admin CRUD only; the purchase path never calls this.
func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plansJSON, err := json.Marshal(p.Plans)
	if err != nil {
		return 0, fmt.Errorf("failed to encode plans: %w", err)
	}

	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO products (name, price, description, category, specification, status, plans_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Price, p.Description, p.Category, p.Specification, string(p.Status), string(plansJSON))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = ?, price = ?, description = ?, category = ?,
			specification = ?, status = ?, plans_json = ?
		WHERE id = ?`,
		p.Name, p.Price, p.Description, p.Category, p.Specification, string(p.Status), string(plansJSON), p.ID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, ledger.ErrProductNotFound
	}
	return p.ID, nil
}

// DeleteProduct removes a catalog row.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	return err
}

// UpdateProductPlan replaces the stock of the plan matching label,
// leaving the product's other plans untouched. Every stock edit - admin
// or purchase - goes through here so it stays inside the transaction
// discipline.
func (s *Store) UpdateProductPlan(ctx context.Context, productID int64, label string, stock ledger.CodePool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateProductPlan(ctx, s.db, productID, label, stock)
}

func (s *Store) updateProductPlan(ctx context.Context, db dbtx, productID int64, label string, stock ledger.CodePool) error {
	p, err := s.getProduct(ctx, db, productID)
	if err != nil {
		return err
	}
	if p == nil {
		return ledger.ErrProductNotFound
	}
	plan := p.FindPlan(label)
	if plan == nil {
		return ledger.ErrPlanNotFound
	}
	plan.Stock = stock

	plansJSON, err := json.Marshal(p.Plans)
	if err != nil {
		return fmt.Errorf("failed to encode plans: %w", err)
	}
	_, err = db.ExecContext(ctx,
		"UPDATE products SET plans_json = ? WHERE id = ?", string(plansJSON), productID)
	return err
}

// =============================================================================
// PURCHASE LOGS (append-only)
// =============================================================================

// InsertPurchaseLog appends one immutable purchase row.
func (s *Store) InsertPurchaseLog(ctx context.Context, row ledger.PurchaseLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertPurchaseLog(ctx, s.db, row)
}

func (s *Store) insertPurchaseLog(ctx context.Context, db dbtx, row ledger.PurchaseLog) error {
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO purchase_logs (id, order_id, user_id, product_id, product_name,
			plan_label, quantity, price, code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.OrderID, row.UserID, row.ProductID, row.ProductName,
		row.PlanLabel, row.Quantity, row.Price, row.Code,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert purchase log: %w", err)
	}
	return nil
}

// ListPurchaseLogs returns a user's purchase rows, newest first.
func (s *Store) ListPurchaseLogs(ctx context.Context, userID string) ([]ledger.PurchaseLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, product_id, product_name, plan_label,
			quantity, price, code, created_at
		FROM purchase_logs WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ledger.PurchaseLog
	for rows.Next() {
		var (
			l         ledger.PurchaseLog
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.UserID, &l.ProductID, &l.ProductName,
			&l.PlanLabel, &l.Quantity, &l.Price, &l.Code, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ProductSales is an aggregate row for the top-products stat.
type ProductSales struct {
	ProductID int64
	Name      string
	Category  string
	Units     int64
	Revenue   int64
}

// TopProducts returns products ranked by units sold.
func (s *Store) TopProducts(ctx context.Context, limit int) ([]ProductSales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.category, COUNT(b.id) AS units, COALESCE(SUM(b.price), 0) AS revenue
		FROM purchase_logs b
		JOIN products p ON b.product_id = p.id
		GROUP BY b.product_id
		ORDER BY units DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []ProductSales
	for rows.Next() {
		var ps ProductSales
		if err := rows.Scan(&ps.ProductID, &ps.Name, &ps.Category, &ps.Units, &ps.Revenue); err != nil {
			return nil, err
		}
		sales = append(sales, ps)
	}
	return sales, rows.Err()
}

// =============================================================================
// CHARGE LOGS
// =============================================================================

const chargeColumns = "id, user_id, amount, payment_method, status, created_at, updated_at"

// InsertChargeLog appends a charge row and returns its ID.
func (s *Store) InsertChargeLog(ctx context.Context, row ledger.ChargeLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertChargeLog(ctx, s.db, row)
}

func (s *Store) insertChargeLog(ctx context.Context, db dbtx, row ledger.ChargeLog) (int64, error) {
	ts := now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO charge_logs (user_id, amount, payment_method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.UserID, row.Amount, row.PaymentMethod, string(row.Status), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to insert charge log: %w", err)
	}
	return res.LastInsertId()
}

func scanChargeLog(scan func(...any) error) (*ledger.ChargeLog, error) {
	var (
		c                    ledger.ChargeLog
		status               string
		createdAt, updatedAt string
	)
	if err := scan(&c.ID, &c.UserID, &c.Amount, &c.PaymentMethod, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Status = ledger.ChargeStatus(status)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// GetChargeLog retrieves a charge by ID. (nil, nil) when missing.
func (s *Store) GetChargeLog(ctx context.Context, id int64) (*ledger.ChargeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getChargeLog(ctx, s.db, id)
}

func (s *Store) getChargeLog(ctx context.Context, db dbtx, id int64) (*ledger.ChargeLog, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+chargeColumns+" FROM charge_logs WHERE id = ?", id)
	c, err := scanChargeLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChargeLogs returns a user's charge rows, newest first.
func (s *Store) ListChargeLogs(ctx context.Context, userID string) ([]ledger.ChargeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chargeColumns+" FROM charge_logs WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ledger.ChargeLog
	for rows.Next() {
		c, err := scanChargeLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *c)
	}
	return logs, rows.Err()
}

// ListAllCharges returns every charge joined with the payer's identity,
// newest first. Admin approval list.
func (s *Store) ListAllCharges(ctx context.Context) ([]ledger.ChargeWithUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.amount, c.payment_method, c.status,
			c.created_at, c.updated_at, COALESCE(u.name, ''), COALESCE(u.phone, '')
		FROM charge_logs c
		LEFT JOIN users u ON c.user_id = u.id
		ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []ledger.ChargeWithUser
	for rows.Next() {
		var (
			c                    ledger.ChargeWithUser
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Amount, &c.PaymentMethod, &status,
			&createdAt, &updatedAt, &c.UserName, &c.UserPhone); err != nil {
			return nil, err
		}
		c.Status = ledger.ChargeStatus(status)
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// TransitionCharge is a compare-and-set on the status column: the row
// changes only if its status still equals from.
func (s *Store) TransitionCharge(ctx context.Context, id int64, from, to ledger.ChargeStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionCharge(ctx, s.db, id, from, to)
}

func (s *Store) transitionCharge(ctx context.Context, db dbtx, id int64, from, to ledger.ChargeStatus) (bool, error) {
	res, err := db.ExecContext(ctx,
		"UPDATE charge_logs SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition charge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListExpiredPending returns pending charges created before cutoff.
func (s *Store) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]ledger.ChargeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listExpiredPending(ctx, s.db, cutoff)
}

func (s *Store) listExpiredPending(ctx context.Context, db dbtx, cutoff time.Time) ([]ledger.ChargeLog, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+chargeColumns+" FROM charge_logs WHERE status = ? AND created_at < ?",
		string(ledger.ChargePending), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ledger.ChargeLog
	for rows.Next() {
		c, err := scanChargeLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *c)
	}
	return logs, rows.Err()
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// InsertNotification appends an in-store notification.
func (s *Store) InsertNotification(ctx context.Context, n ledger.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertNotification(ctx, s.db, n)
}

func (s *Store) insertNotification(ctx context.Context, db dbtx, n ledger.Notification) error {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Data, createdAt.Format(time.RFC3339))
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, data, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []ledger.Notification
	for rows.Next() {
		var (
			n         ledger.Notification
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Data, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(createdAt)
		list = append(list, n)
	}
	return list, rows.Err()
}

// ClearNotifications deletes all of a user's notifications.
func (s *Store) ClearNotifications(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", userID)
	return err
}

// =============================================================================
// CATEGORIES
// =============================================================================

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []ledger.Category
	for rows.Next() {
		var c ledger.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CreateCategory inserts a category; duplicate names conflict.
func (s *Store) CreateCategory(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "INSERT INTO categories (name) VALUES (?)", name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, ledger.ErrDuplicateID
		}
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteCategory removes a category. Products keep their category name;
// there is no cascade.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	return err
}

// =============================================================================
// ANNOUNCEMENTS
// =============================================================================

// ListAnnouncements returns all announcements, newest first.
func (s *Store) ListAnnouncements(ctx context.Context) ([]ledger.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content, created_at FROM announcements ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []ledger.Announcement
	for rows.Next() {
		var (
			a         ledger.Announcement
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		list = append(list, a)
	}
	return list, rows.Err()
}

// GetAnnouncement retrieves one announcement. (nil, nil) when missing.
func (s *Store) GetAnnouncement(ctx context.Context, id int64) (*ledger.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a         ledger.Announcement
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, content, created_at FROM announcements WHERE id = ?", id,
	).Scan(&a.ID, &a.Title, &a.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// CreateAnnouncement inserts an announcement and returns its ID.
func (s *Store) CreateAnnouncement(ctx context.Context, title, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO announcements (title, content, created_at) VALUES (?, ?, ?)",
		title, content, now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteAnnouncement removes an announcement.
func (s *Store) DeleteAnnouncement(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM announcements WHERE id = ?", id)
	return err
}

// SetEmergencyAnnouncement publishes a new emergency banner.
func (s *Store) SetEmergencyAnnouncement(ctx context.Context, title, content string, endAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO emergency_announcements (title, content, created_at, end_at) VALUES (?, ?, ?, ?)",
		title, content, now(), endAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveEmergencyAnnouncement returns the most recent banner whose end
// time has not passed, or (nil, nil).
func (s *Store) ActiveEmergencyAnnouncement(ctx context.Context) (*ledger.EmergencyAnnouncement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e                ledger.EmergencyAnnouncement
		createdAt, endAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, created_at, end_at
		FROM emergency_announcements
		WHERE end_at > ?
		ORDER BY created_at DESC LIMIT 1`, now(),
	).Scan(&e.ID, &e.Title, &e.Content, &createdAt, &endAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.EndAt = parseTime(endAt)
	return &e, nil
}

// =============================================================================
// VISITS
// =============================================================================

// RecordVisit upserts the caller's IP with the current time.
func (s *Store) RecordVisit(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (ip, time) VALUES (?, ?)
		ON CONFLICT(ip) DO UPDATE SET time = excluded.time`, ip, now())
	return err
}

// VisitCounts returns today's and all-time distinct visitor counts.
func (s *Store) VisitCounts(ctx context.Context) (today, total int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	midnight := time.Now().UTC().Truncate(24 * time.Hour).Format(time.RFC3339)
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), (SELECT COUNT(*) FROM visits) FROM visits WHERE time >= ?",
		midnight,
	).Scan(&today, &total)
	return today, total, err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The write lock is
// held for the duration, serializing writers within this process; the
// commit-or-rollback guarantee is the transaction's.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes the engine-facing contract through an open transaction.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetUser(ctx context.Context, id string) (*ledger.User, error) {
	return ts.parent.getUser(ctx, ts.tx, id)
}

func (ts *txStore) UpdateUserPurchase(ctx context.Context, id string, balance, totalSpent int64, t tier.Tier) error {
	return ts.parent.updateUserPurchase(ctx, ts.tx, id, balance, totalSpent, t)
}

func (ts *txStore) CreditBalance(ctx context.Context, userID string, amount int64) error {
	return ts.parent.creditBalance(ctx, ts.tx, userID, amount)
}

func (ts *txStore) GetProduct(ctx context.Context, id int64) (*ledger.Product, error) {
	return ts.parent.getProduct(ctx, ts.tx, id)
}

func (ts *txStore) UpdateProductPlan(ctx context.Context, productID int64, label string, stock ledger.CodePool) error {
	return ts.parent.updateProductPlan(ctx, ts.tx, productID, label, stock)
}

func (ts *txStore) InsertPurchaseLog(ctx context.Context, row ledger.PurchaseLog) error {
	return ts.parent.insertPurchaseLog(ctx, ts.tx, row)
}

func (ts *txStore) InsertChargeLog(ctx context.Context, row ledger.ChargeLog) (int64, error) {
	return ts.parent.insertChargeLog(ctx, ts.tx, row)
}

func (ts *txStore) GetChargeLog(ctx context.Context, id int64) (*ledger.ChargeLog, error) {
	return ts.parent.getChargeLog(ctx, ts.tx, id)
}

func (ts *txStore) TransitionCharge(ctx context.Context, id int64, from, to ledger.ChargeStatus) (bool, error) {
	return ts.parent.transitionCharge(ctx, ts.tx, id, from, to)
}

func (ts *txStore) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]ledger.ChargeLog, error) {
	return ts.parent.listExpiredPending(ctx, ts.tx, cutoff)
}

func (ts *txStore) InsertNotification(ctx context.Context, n ledger.Notification) error {
	return ts.parent.insertNotification(ctx, ts.tx, n)
}
