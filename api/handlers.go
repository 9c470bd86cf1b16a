/*
handlers.go - HTTP handlers for the storefront API

PURPOSE:
  Exposes accounts, catalog, purchases, wallet charges, and the admin
  surface over REST. Handlers parse and validate the wire format, then
  delegate to the engines and store; no money or stock logic lives here.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account
    POST   /api/auth/login             Login, sets session cookie
    POST   /api/auth/logout            Clear session
    GET    /api/auth/me                Own account view
    POST   /api/auth/password          Change password
    POST   /api/auth/verify            Record identity verification

  Catalog:
    GET    /api/products               List active products (?category=)
    GET    /api/products/{id}          Product detail
    GET    /api/categories             List categories

  Purchases:
    POST   /api/purchase               Buy codes with wallet balance
    GET    /api/purchases              Own purchase history

  Charges:
    POST   /api/charges                Request a bank-transfer top-up
    GET    /api/charges                Own charge history
    POST   /api/charges/callback       Bank-watcher deposit callback

  Side surfaces:
    GET    /api/notifications          Own notifications
    DELETE /api/notifications          Clear own notifications
    GET    /api/announcements          Public notices
    GET    /api/announcements/emergency Active emergency banner
    POST   /api/visit                  Visitor counter ping
    GET    /api/stats/visitors         Today/total visitor counts
    GET    /api/stats/top-products     Sales ranking with revenue share

  Admin (separate session):
    POST   /api/admin/login
    GET    /api/admin/users
    POST   /api/admin/users/{id}/adjust
    GET    /api/admin/charges
    POST   /api/admin/charges/{id}/approve
    POST   /api/admin/charges/{id}/reject
    GET    /api/admin/products         All statuses, code pools included
    GET    /api/admin/products/{id}
    POST   /api/admin/products, PUT/DELETE /api/admin/products/{id}
    POST   /api/admin/categories, DELETE /api/admin/categories/{id}
    POST   /api/admin/announcements, DELETE /api/admin/announcements/{id}
    POST   /api/admin/announcements/emergency

ERROR HANDLING:
  Engine errors map to HTTP statuses via the ledger taxonomy:
  - 400: Invalid input, stock/balance shortfalls, preconditions
  - 401: Missing or unresolvable session
  - 404: Missing user/product/plan/charge
  - 409: Double settlement, duplicate registration
  - 500: Store failures

SEE ALSO:
  - dto.go: Wire-format structs
  - auth.go: Sessions and password hashing
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keyspot/storefront/engine"
	"github.com/keyspot/storefront/ledger"
	"github.com/keyspot/storefront/store/sqlite"
	"github.com/keyspot/storefront/tier"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Purchases *engine.PurchaseEngine
	Charges   *engine.ChargeEngine
	Auth      *Auth

	adminPassword string
	log           *zap.SugaredLogger
}

// NewHandler creates a handler. An empty adminPassword disables the
// admin login entirely.
func NewHandler(store *sqlite.Store, purchases *engine.PurchaseEngine, charges *engine.ChargeEngine, auth *Auth, adminPassword string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Store:         store,
		Purchases:     purchases,
		Charges:       charges,
		Auth:          auth,
		adminPassword: adminPassword,
		log:           log,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates a new account and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if len(req.ID) < 4 || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "ID must be at least 4 characters and password at least 8", nil)
		return
	}

	salt := NewSalt()
	user := ledger.User{
		ID:           req.ID,
		PasswordHash: HashPassword(salt, req.Password),
		Salt:         salt,
		Tier:         tier.TierNone,
		Email:        req.Email,
		LastIP:       clientIP(r),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ledger.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "ID already taken", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	if err := h.Auth.SetUserSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(&user))
}

// Login verifies credentials and sets the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Store.GetUser(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	if user == nil || !CheckPassword(user.PasswordHash, user.Salt, req.Password) {
		// One message for both cases; no account enumeration.
		writeError(w, http.StatusUnauthorized, "Invalid ID or password", nil)
		return
	}

	if ip := clientIP(r); ip != "" {
		if err := h.Store.UpdateUserLastIP(r.Context(), user.ID, ip); err != nil {
			h.log.Warnw("last-ip update failed", "user_id", user.ID, "error", err)
		}
	}

	if err := h.Auth.SetUserSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// Logout clears the session cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Auth.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the caller's own account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUser(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Account no longer exists", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// ChangePassword replaces the caller's credential after verifying the
// current one.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.New) < 8 {
		writeError(w, http.StatusBadRequest, "New password must be at least 8 characters", nil)
		return
	}

	userID := sessionUserID(r.Context())
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	if !CheckPassword(user.PasswordHash, user.Salt, req.Current) {
		writeError(w, http.StatusUnauthorized, "Current password is incorrect", nil)
		return
	}

	salt := NewSalt()
	if err := h.Store.UpdateUserPassword(r.Context(), userID, HashPassword(salt, req.New), salt); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update password", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VerifyIdentity records the identity-verification result for the
// caller. All four fields are required; charging is gated on them.
func (h *Handler) VerifyIdentity(w http.ResponseWriter, r *http.Request) {
	var req VerifyIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Phone == "" || req.Carrier == "" || req.Birth == "" {
		writeError(w, http.StatusBadRequest, "Name, phone, carrier and birth are all required", nil)
		return
	}

	userID := sessionUserID(r.Context())
	if err := h.Store.UpdateUserIdentity(r.Context(), userID, req.Name, req.Phone, req.Carrier, req.Birth); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save verification", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns active products, optionally filtered by category.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), r.URL.Query().Get("category"), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns one product with per-plan stock counts.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product id", err)
		return
	}

	product, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*product))
}

// ListCategories returns all categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Store.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, 0, len(cats))
	for _, c := range cats {
		dtos = append(dtos, CategoryDTO{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// Purchase buys codes from a plan with the caller's wallet balance.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Purchases.Purchase(r.Context(), sessionUserID(r.Context()), req.ProductID, req.Plan, req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(res))
}

// ListPurchases returns the caller's purchase history.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Store.ListPurchaseLogs(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list purchases", err)
		return
	}

	dtos := make([]PurchaseLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, PurchaseLogDTO{
			ID:          l.ID,
			OrderID:     l.OrderID,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Plan:        l.PlanLabel,
			Price:       l.Price,
			Code:        l.Code,
			CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// RequestCharge creates a pending bank-transfer top-up.
func (h *Handler) RequestCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	charge, err := h.Charges.RequestCharge(r.Context(), sessionUserID(r.Context()), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTO(*charge))
}

// ListCharges returns the caller's charge history.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Store.ListChargeLogs(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	dtos := make([]ChargeDTO, 0, len(logs))
	for _, c := range logs {
		dtos = append(dtos, toChargeDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ChargeCallback settles a pending charge from the bank-watcher. The
// watcher may deliver the same callback more than once; replays settle
// nothing and come back 409.
func (h *Handler) ChargeCallback(w http.ResponseWriter, r *http.Request) {
	var req ChargeCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	decision := engine.DecisionApprove
	if !req.Success {
		decision = engine.DecisionReject
	}
	charge, err := h.Charges.Settle(r.Context(), req.ChargeLogID, decision, engine.SourceCallback)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*charge))
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListNotifications returns the caller's notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListNotifications(r.Context(), sessionUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, 0, len(list))
	for _, n := range list {
		dtos = append(dtos, NotificationDTO{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Data:      n.Data,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClearNotifications deletes all of the caller's notifications.
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ClearNotifications(r.Context(), sessionUserID(r.Context())); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ANNOUNCEMENT HANDLERS
// =============================================================================

// ListAnnouncements returns all public notices.
func (h *Handler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListAnnouncements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list announcements", err)
		return
	}
	dtos := make([]AnnouncementDTO, 0, len(list))
	for _, a := range list {
		dtos = append(dtos, AnnouncementDTO{
			ID:        a.ID,
			Title:     a.Title,
			Content:   a.Content,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAnnouncement returns one public notice.
func (h *Handler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid announcement id", err)
		return
	}
	a, err := h.Store.GetAnnouncement(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get announcement", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Announcement not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, AnnouncementDTO{
		ID:        a.ID,
		Title:     a.Title,
		Content:   a.Content,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	})
}

// EmergencyAnnouncement returns the active emergency banner, or null.
func (h *Handler) EmergencyAnnouncement(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.ActiveEmergencyAnnouncement(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get emergency announcement", err)
		return
	}
	if e == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, EmergencyAnnouncementDTO{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		EndAt:     e.EndAt.Format(time.RFC3339),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

// RecordVisit upserts the caller's IP into the visitor counter.
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.RecordVisit(r.Context(), clientIP(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record visit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VisitorStats returns today/total distinct visitor counts.
func (h *Handler) VisitorStats(w http.ResponseWriter, r *http.Request) {
	today, total, err := h.Store.VisitCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get visitor stats", err)
		return
	}
	writeJSON(w, http.StatusOK, VisitorStatsDTO{Today: today, Total: total})
}

// TopProducts returns the sales ranking. Revenue share is computed with
// exact decimal arithmetic so the percentages always sum to 100 within
// rounding of the displayed precision.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	sales, err := h.Store.TopProducts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get top products", err)
		return
	}

	var totalRevenue decimal.Decimal
	for _, s := range sales {
		totalRevenue = totalRevenue.Add(decimal.NewFromInt(s.Revenue))
	}

	hundred := decimal.NewFromInt(100)
	dtos := make([]TopProductDTO, 0, len(sales))
	for _, s := range sales {
		share := "0.00"
		if totalRevenue.IsPositive() {
			share = decimal.NewFromInt(s.Revenue).Mul(hundred).Div(totalRevenue).StringFixed(2)
		}
		dtos = append(dtos, TopProductDTO{
			ProductID:    s.ProductID,
			Name:         s.Name,
			Category:     s.Category,
			Units:        s.Units,
			Revenue:      s.Revenue,
			RevenueShare: share,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// AdminLogin checks the panel password and sets the admin cookie.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	if h.adminPassword == "" {
		writeError(w, http.StatusForbidden, "Admin login is disabled", nil)
		return
	}

	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Password != h.adminPassword {
		writeError(w, http.StatusUnauthorized, "Invalid password", nil)
		return
	}

	if err := h.Auth.SetAdminSession(w); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AdminListUsers returns every account with identity fields.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}
	dtos := make([]AdminUserDTO, 0, len(users))
	for i := range users {
		u := &users[i]
		dtos = append(dtos, AdminUserDTO{
			UserDTO: toUserDTO(u),
			Carrier: u.Carrier,
			Birth:   u.Birth,
			LastIP:  u.LastIP,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminAdjustUser overwrites a user's balance and tier.
func (h *Handler) AdminAdjustUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AdjustUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Balance < 0 {
		writeError(w, http.StatusBadRequest, "Balance cannot be negative", nil)
		return
	}
	t := tier.Tier(req.Tier)
	if !t.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown tier", nil)
		return
	}

	if err := h.Store.AdjustUser(r.Context(), id, req.Balance, t); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to adjust user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AdminListCharges returns every charge joined with payer identity.
func (h *Handler) AdminListCharges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.Store.ListAllCharges(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	dtos := make([]AdminChargeDTO, 0, len(charges))
	for _, c := range charges {
		dtos = append(dtos, AdminChargeDTO{
			ChargeDTO: toChargeDTO(c.ChargeLog),
			UserID:    c.UserID,
			UserName:  c.UserName,
			UserPhone: c.UserPhone,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminApproveCharge settles a pending charge as completed, crediting
// the payer's wallet.
func (h *Handler) AdminApproveCharge(w http.ResponseWriter, r *http.Request) {
	h.adminSettle(w, r, engine.DecisionApprove)
}

// AdminRejectCharge settles a pending charge as rejected.
func (h *Handler) AdminRejectCharge(w http.ResponseWriter, r *http.Request) {
	h.adminSettle(w, r, engine.DecisionReject)
}

func (h *Handler) adminSettle(w http.ResponseWriter, r *http.Request, decision engine.Decision) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid charge id", err)
		return
	}

	charge, err := h.Charges.Settle(r.Context(), id, decision, engine.SourceAdmin)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*charge))
}

// AdminListProducts returns the full catalog regardless of status, with
// each plan's code pool. PUT replaces plans wholesale, so an admin edit
// must be able to read the unsold codes back before resending them.
func (h *Handler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), r.URL.Query().Get("category"), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}
	dtos := make([]AdminProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toAdminProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AdminGetProduct returns one product with full code pools.
func (h *Handler) AdminGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product id", err)
		return
	}
	product, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get product", err)
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAdminProductDTO(*product))
}

// AdminSaveProduct creates (POST) or replaces (PUT with id) a product,
// including its plans and their code pools.
func (h *Handler) AdminSaveProduct(w http.ResponseWriter, r *http.Request) {
	var id int64
	if raw := chi.URLParam(r, "id"); raw != "" {
		var err error
		if id, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid product id", err)
			return
		}
	}

	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "Name and category are required", nil)
		return
	}
	status := ledger.ProductStatus(req.Status)
	if status == "" {
		status = ledger.ProductActive
	}
	if status != ledger.ProductActive && status != ledger.ProductInactive {
		writeError(w, http.StatusBadRequest, "Unknown product status", nil)
		return
	}

	plans := make([]ledger.Plan, 0, len(req.Plans))
	for _, p := range req.Plans {
		if p.Label == "" {
			writeError(w, http.StatusBadRequest, "Plan label is required", nil)
			return
		}
		plans = append(plans, ledger.Plan{
			Label: p.Label,
			Price: p.Price,
			Stock: ledger.NewCodePool(p.Codes),
		})
	}

	product := ledger.Product{
		ID:            id,
		Name:          req.Name,
		Price:         req.Price,
		Description:   req.Description,
		Category:      req.Category,
		Specification: req.Specification,
		Status:        status,
		Plans:         plans,
	}

	savedID, err := h.Store.SaveProduct(r.Context(), product)
	if err != nil {
		if errors.Is(err, ledger.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "Product not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}
	product.ID = savedID

	code := http.StatusOK
	if id == 0 {
		code = http.StatusCreated
	}
	writeJSON(w, code, toAdminProductDTO(product))
}

// AdminDeleteProduct removes a catalog row. Purchase logs keep their
// snapshots, so history stays readable.
func (h *Handler) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product id", err)
		return
	}
	if err := h.Store.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete product", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AdminCreateCategory inserts a category.
func (h *Handler) AdminCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	id, err := h.Store.CreateCategory(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateID) {
			writeError(w, http.StatusConflict, "Category already exists", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, CategoryDTO{ID: id, Name: req.Name})
}

// AdminDeleteCategory removes a category.
func (h *Handler) AdminDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid category id", err)
		return
	}
	if err := h.Store.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete category", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AdminCreateAnnouncement publishes a notice.
func (h *Handler) AdminCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req CreateAnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required", nil)
		return
	}

	id, err := h.Store.CreateAnnouncement(r.Context(), req.Title, req.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create announcement", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// AdminDeleteAnnouncement removes a notice.
func (h *Handler) AdminDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid announcement id", err)
		return
	}
	if err := h.Store.DeleteAnnouncement(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete announcement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AdminSetEmergencyAnnouncement publishes a banner shown for the given
// number of minutes.
func (h *Handler) AdminSetEmergencyAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req EmergencyAnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" || req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, "Title and a positive duration are required", nil)
		return
	}

	endAt := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	id, err := h.Store.SetEmergencyAnnouncement(r.Context(), req.Title, req.Content, endAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set emergency announcement", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "endAt": endAt.Format(time.RFC3339)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the ledger error taxonomy onto HTTP statuses.
// Structured errors keep their detail in the message so the frontend can
// show exact shortfalls.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// clientIP strips the port from the connection's remote address. The
// RealIP middleware has already resolved proxy headers into RemoteAddr,
// so the header is never consulted here.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
