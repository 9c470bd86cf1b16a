/*
handlers_test.go - HTTP API tests

Runs the full router against an in-memory SQLite store, exercising the
session cookies end to end: register, purchase, charge, callback replay,
and the admin surface.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyspot/storefront/engine"
	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/store/sqlite"
	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	store  *sqlite.Store
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	purchases := engine.NewPurchaseEngine(store, nil, nil)
	charges := engine.NewChargeEngine(store, nil, nil, 10_000, nil)
	auth := NewAuth("test-secret")
	handler := NewHandler(store, purchases, charges, auth, "admin-pw", nil)

	return &testEnv{store: store, router: NewRouter(handler)}
}

// do sends a JSON request with optional session cookies.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	t.Fatalf("No %s cookie in response", name)
	return nil
}

// registerUser registers through the API and returns the session cookie.
func (e *testEnv) registerUser(t *testing.T, id string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{ID: id, Password: "password123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return sessionCookie(t, rec, userCookie)
}

func (e *testEnv) adminCookie(t *testing.T) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/admin/login", AdminLoginRequest{Password: "admin-pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec, adminCookie)
}

func (e *testEnv) seedCatalog(t *testing.T, codes []string) int64 {
	t.Helper()
	id, err := e.store.SaveProduct(context.Background(), ledger.Product{
		Name:     "Test Key",
		Price:    1_000,
		Category: "keys",
		Status:   ledger.ProductActive,
		Plans: []ledger.Plan{
			{Label: "30", Price: 1_000, Stock: ledger.NewCodePool(codes)},
		},
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestAPI_RegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	cookie := env.registerUser(t, "alice")

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[UserDTO](t, rec)
	assert.Equal(t, "alice", me.ID)
	assert.Equal(t, int64(0), me.Balance)
	assert.False(t, me.Verified)

	// Duplicate registration conflicts.
	rec = env.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{ID: "alice", Password: "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Wrong password and unknown ID produce the same response.
	rec = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{ID: "alice", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{ID: "ghost", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct login works.
	rec = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{ID: "alice", Password: "password123"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/purchase"},
		{http.MethodGet, "/api/purchases"},
		{http.MethodPost, "/api/charges"},
		{http.MethodGet, "/api/notifications"},
		{http.MethodGet, "/api/admin/users"},
	} {
		rec := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	// A user session is not an admin session.
	cookie := env.registerUser(t, "alice")
	rec := env.do(t, http.MethodGet, "/api/admin/users", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// PURCHASE FLOW
// =============================================================================

func TestAPI_PurchaseFlow(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.registerUser(t, "alice")
	productID := env.seedCatalog(t, []string{"A", "B", "C"})
	require.NoError(t, env.store.CreditBalance(context.Background(), "alice", 5_000))

	// Public catalog shows the stock count, never the codes.
	rec := env.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody[[]ProductDTO](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, 3, products[0].Plans[0].Stock)

	// Buy 2.
	rec = env.do(t, http.MethodPost, "/api/purchase", PurchaseRequest{ProductID: productID, Plan: "30", Quantity: 2}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[PurchaseResponse](t, rec)
	assert.Len(t, res.Codes, 2)
	assert.Equal(t, int64(3_000), res.RemainingBalance)
	assert.Equal(t, string(tier.TierBuyer), res.Tier)

	// History shows one row per code.
	rec = env.do(t, http.MethodGet, "/api/purchases", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]PurchaseLogDTO](t, rec)
	assert.Len(t, history, 2)

	// Requesting more than the remaining stock is a client error.
	rec = env.do(t, http.MethodPost, "/api/purchase", PurchaseRequest{ProductID: productID, Plan: "30", Quantity: 4}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown product is 404.
	rec = env.do(t, http.MethodPost, "/api/purchase", PurchaseRequest{ProductID: 999, Plan: "30", Quantity: 1}, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CHARGE FLOW
// =============================================================================

func TestAPI_ChargeFlow(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.registerUser(t, "alice")

	// Unverified users cannot charge.
	rec := env.do(t, http.MethodPost, "/api/charges", ChargeRequest{Amount: 50_000}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/verify", VerifyIdentityRequest{
		Name: "Kim", Phone: "010-1234-5678", Carrier: "SKT", Birth: "990101",
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	// Below the minimum.
	rec = env.do(t, http.MethodPost, "/api/charges", ChargeRequest{Amount: 9_999}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid request.
	rec = env.do(t, http.MethodPost, "/api/charges", ChargeRequest{Amount: 50_000}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	charge := decodeBody[ChargeDTO](t, rec)
	assert.Equal(t, string(ledger.ChargePending), charge.Status)

	// Bank-watcher callback approves it.
	rec = env.do(t, http.MethodPost, "/api/charges/callback", ChargeCallbackRequest{ChargeLogID: charge.ID, Success: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[ChargeDTO](t, rec)
	assert.Equal(t, string(ledger.ChargeCompleted), settled.Status)

	// The wallet was credited.
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	me := decodeBody[UserDTO](t, rec)
	assert.Equal(t, int64(50_000), me.Balance)

	// A replayed callback is a conflict and credits nothing.
	rec = env.do(t, http.MethodPost, "/api/charges/callback", ChargeCallbackRequest{ChargeLogID: charge.ID, Success: true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	me = decodeBody[UserDTO](t, rec)
	assert.Equal(t, int64(50_000), me.Balance)
}

// =============================================================================
// ADMIN SURFACE
// =============================================================================

func TestAPI_AdminChargeApproval(t *testing.T) {
	env := newTestEnv(t)
	userCk := env.registerUser(t, "alice")
	adminCk := env.adminCookie(t)

	rec := env.do(t, http.MethodPost, "/api/auth/verify", VerifyIdentityRequest{
		Name: "Kim", Phone: "010-1234-5678", Carrier: "SKT", Birth: "990101",
	}, userCk)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/charges", ChargeRequest{Amount: 30_000}, userCk)
	require.Equal(t, http.StatusCreated, rec.Code)
	charge := decodeBody[ChargeDTO](t, rec)

	// The approval list joins the payer's identity.
	rec = env.do(t, http.MethodGet, "/api/admin/charges", nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code)
	charges := decodeBody[[]AdminChargeDTO](t, rec)
	require.Len(t, charges, 1)
	assert.Equal(t, "Kim", charges[0].UserName)

	// Manual approval credits the wallet.
	rec = env.do(t, http.MethodPost, "/api/admin/charges/"+itoa(charge.ID)+"/approve", nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, userCk)
	me := decodeBody[UserDTO](t, rec)
	assert.Equal(t, int64(30_000), me.Balance)

	// Double approval is a conflict.
	rec = env.do(t, http.MethodPost, "/api/admin/charges/"+itoa(charge.ID)+"/approve", nil, adminCk)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_AdminCatalogAndUsers(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser(t, "alice")
	adminCk := env.adminCookie(t)

	// Create a product with codes.
	rec := env.do(t, http.MethodPost, "/api/admin/products", SaveProductRequest{
		Name:     "New Key",
		Price:    2_000,
		Category: "keys",
		Plans:    []AdminPlanDTO{{Label: "30", Price: 2_000, Codes: []string{"K1", "K2"}}},
	}, adminCk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[AdminProductDTO](t, rec)
	assert.ElementsMatch(t, []string{"K1", "K2"}, created.Plans[0].Codes)

	// Adjust a user's wallet and tier.
	rec = env.do(t, http.MethodPost, "/api/admin/users/alice/adjust", AdjustUserRequest{Balance: 77_000, Tier: "vip"}, adminCk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/users", nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decodeBody[[]AdminUserDTO](t, rec)
	require.Len(t, users, 1)
	assert.Equal(t, int64(77_000), users[0].Balance)
	assert.Equal(t, "vip", users[0].Tier)

	// Unknown tier is rejected.
	rec = env.do(t, http.MethodPost, "/api/admin/users/alice/adjust", AdjustUserRequest{Balance: 0, Tier: "gold"}, adminCk)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong admin password never mints a session.
	rec = env.do(t, http.MethodPost, "/api/admin/login", AdminLoginRequest{Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_AdminProductEditRoundTrip(t *testing.T) {
	// GIVEN: A product whose plan holds unsold codes
	// WHEN: An admin reads it back, flips its status, and resends the plans
	// THEN: Every unsold code survives the edit

	env := newTestEnv(t)
	adminCk := env.adminCookie(t)
	productID := env.seedCatalog(t, []string{"A", "B", "C"})

	// The admin detail exposes the full pool; the public detail never does.
	rec := env.do(t, http.MethodGet, "/api/admin/products/"+itoa(productID), nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decodeBody[AdminProductDTO](t, rec)
	require.Len(t, detail.Plans, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, detail.Plans[0].Codes)

	rec = env.do(t, http.MethodGet, "/api/products/"+itoa(productID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	public := decodeBody[ProductDTO](t, rec)
	assert.Equal(t, 3, public.Plans[0].Stock)

	// Edit: deactivate, reusing the plans exactly as read.
	rec = env.do(t, http.MethodPut, "/api/admin/products/"+itoa(productID), SaveProductRequest{
		Name:     detail.Name,
		Price:    detail.Price,
		Category: detail.Category,
		Status:   string(ledger.ProductInactive),
		Plans:    detail.Plans,
	}, adminCk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/products/"+itoa(productID), nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code)
	edited := decodeBody[AdminProductDTO](t, rec)
	assert.Equal(t, string(ledger.ProductInactive), edited.Status)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, edited.Plans[0].Codes)

	// The admin list still carries the now-inactive product; the public
	// list does not.
	rec = env.do(t, http.MethodGet, "/api/admin/products", nil, adminCk)
	require.Equal(t, http.StatusOK, rec.Code)
	adminList := decodeBody[[]AdminProductDTO](t, rec)
	require.Len(t, adminList, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, adminList[0].Plans[0].Codes)

	rec = env.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	publicList := decodeBody[[]ProductDTO](t, rec)
	assert.Len(t, publicList, 0)

	// Admin access is required throughout.
	rec = env.do(t, http.MethodGet, "/api/admin/products", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientIP_UsesRemoteAddrOnly(t *testing.T) {
	// Proxy headers are resolved once, by the RealIP middleware; the
	// helper itself must never consult them.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:41234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "10.0.0.9", clientIP(req))

	// RealIP rewrites RemoteAddr without a port; pass it through.
	req.RemoteAddr = "203.0.113.7"
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
