/*
dto.go - Request and response data structures

PURPOSE:
  Wire-format structs for the HTTP API, separated from the domain types
  so the JSON surface can evolve independently of the ledger entities.

CONVENTIONS:
  - JSON field names are camelCase
  - Amounts are int64 minor units, never floats
  - Timestamps are RFC3339 strings
  - Code pools are exposed to admins as plain string arrays; users only
    ever see a remaining-stock count

SEE ALSO:
  - handlers.go: Where these are produced and consumed
*/
package api

import (
	"time"

	"github.com/keyspot/storefront/engine"
	"github.com/keyspot/storefront/ledger"
)

// =============================================================================
// AUTH
// =============================================================================

type RegisterRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type LoginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

type VerifyIdentityRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Carrier string `json:"carrier"`
	Birth   string `json:"birth"`
}

type AdminLoginRequest struct {
	Password string `json:"password"`
}

// UserDTO is the caller's own account view. The credential fields never
// leave the server.
type UserDTO struct {
	ID         string `json:"id"`
	Balance    int64  `json:"balance"`
	TotalSpent int64  `json:"totalSpent"`
	Tier       string `json:"tier"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Verified   bool   `json:"verified"`
	CreatedAt  string `json:"createdAt"`
}

func toUserDTO(u *ledger.User) UserDTO {
	return UserDTO{
		ID:         u.ID,
		Balance:    u.Balance,
		TotalSpent: u.TotalSpent,
		Tier:       string(u.Tier),
		Name:       u.Name,
		Phone:      u.Phone,
		Email:      u.Email,
		Verified:   u.Verified(),
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
}

// AdminUserDTO additionally exposes identity and audit fields.
type AdminUserDTO struct {
	UserDTO
	Carrier string `json:"carrier,omitempty"`
	Birth   string `json:"birth,omitempty"`
	LastIP  string `json:"lastIp,omitempty"`
}

type AdjustUserRequest struct {
	Balance int64  `json:"balance"`
	Tier    string `json:"tier"`
}

// =============================================================================
// CATALOG
// =============================================================================

// PlanDTO is the public view of a plan: stock collapses to a count.
type PlanDTO struct {
	Label string `json:"day"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

type ProductDTO struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category"`
	Specification string    `json:"specification,omitempty"`
	Status        string    `json:"status"`
	Plans         []PlanDTO `json:"plans"`
}

func toProductDTO(p ledger.Product) ProductDTO {
	plans := make([]PlanDTO, len(p.Plans))
	for i, pl := range p.Plans {
		plans[i] = PlanDTO{Label: pl.Label, Price: pl.Price, Stock: pl.Stock.Size()}
	}
	return ProductDTO{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		Description:   p.Description,
		Category:      p.Category,
		Specification: p.Specification,
		Status:        string(p.Status),
		Plans:         plans,
	}
}

// AdminPlanDTO carries the actual codes for catalog management.
type AdminPlanDTO struct {
	Label string   `json:"day"`
	Price int64    `json:"price"`
	Codes []string `json:"codes"`
}

// AdminProductDTO is the catalog-management view: plans carry their full
// code pools so an admin edit can round-trip without losing unsold codes.
type AdminProductDTO struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Price         int64          `json:"price"`
	Description   string         `json:"description,omitempty"`
	Category      string         `json:"category"`
	Specification string         `json:"specification,omitempty"`
	Status        string         `json:"status"`
	Plans         []AdminPlanDTO `json:"plans"`
}

func toAdminProductDTO(p ledger.Product) AdminProductDTO {
	plans := make([]AdminPlanDTO, len(p.Plans))
	for i, pl := range p.Plans {
		plans[i] = AdminPlanDTO{Label: pl.Label, Price: pl.Price, Codes: pl.Stock.Codes()}
	}
	return AdminProductDTO{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		Description:   p.Description,
		Category:      p.Category,
		Specification: p.Specification,
		Status:        string(p.Status),
		Plans:         plans,
	}
}

type SaveProductRequest struct {
	Name          string         `json:"name"`
	Price         int64          `json:"price"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Specification string         `json:"specification"`
	Status        string         `json:"status"`
	Plans         []AdminPlanDTO `json:"plans"`
}

type CategoryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// PURCHASE
// =============================================================================

type PurchaseRequest struct {
	ProductID int64  `json:"productId"`
	Plan      string `json:"plan"`
	Quantity  int    `json:"quantity"`
}

type PurchaseResponse struct {
	OrderID          string   `json:"orderId"`
	ProductName      string   `json:"productName"`
	Plan             string   `json:"plan"`
	Quantity         int      `json:"quantity"`
	TotalPrice       int64    `json:"totalPrice"`
	Codes            []string `json:"codes"`
	RemainingBalance int64    `json:"remainingBalance"`
	Tier             string   `json:"tier"`
	TierChanged      bool     `json:"tierChanged"`
}

func toPurchaseResponse(res *engine.PurchaseResult) PurchaseResponse {
	return PurchaseResponse{
		OrderID:          res.OrderID,
		ProductName:      res.ProductName,
		Plan:             res.PlanLabel,
		Quantity:         res.Quantity,
		TotalPrice:       res.TotalPrice,
		Codes:            res.Codes,
		RemainingBalance: res.RemainingBalance,
		Tier:             string(res.Tier),
		TierChanged:      res.TierChanged,
	}
}

type PurchaseLogDTO struct {
	ID          string `json:"id"`
	OrderID     string `json:"orderId"`
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Plan        string `json:"plan"`
	Price       int64  `json:"price"`
	Code        string `json:"code"`
	CreatedAt   string `json:"createdAt"`
}

// =============================================================================
// CHARGES
// =============================================================================

type ChargeRequest struct {
	Amount int64 `json:"amount"`
}

type ChargeDTO struct {
	ID            int64  `json:"id"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func toChargeDTO(c ledger.ChargeLog) ChargeDTO {
	return ChargeDTO{
		ID:            c.ID,
		Amount:        c.Amount,
		PaymentMethod: c.PaymentMethod,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

// AdminChargeDTO joins the payer identity for the approval list.
type AdminChargeDTO struct {
	ChargeDTO
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	UserPhone string `json:"userPhone,omitempty"`
}

// ChargeCallbackRequest is the bank-watcher's report of a matched (or
// unmatched) deposit for a pending charge.
type ChargeCallbackRequest struct {
	ChargeLogID int64 `json:"chargeLogId"`
	Success     bool  `json:"success"`
}

// =============================================================================
// SIDE SURFACES
// =============================================================================

type NotificationDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type AnnouncementDTO struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type EmergencyAnnouncementDTO struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	EndAt     string `json:"endAt"`
	CreatedAt string `json:"createdAt"`
}

type CreateAnnouncementRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type EmergencyAnnouncementRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Minutes int    `json:"minutes"`
}

type VisitorStatsDTO struct {
	Today int64 `json:"today"`
	Total int64 `json:"total"`
}

// TopProductDTO ranks a product by units sold; share is this product's
// fraction of total revenue, rendered with two decimal places.
type TopProductDTO struct {
	ProductID    int64  `json:"productId"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Units        int64  `json:"units"`
	Revenue      int64  `json:"revenue"`
	RevenueShare string `json:"revenueShare"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
