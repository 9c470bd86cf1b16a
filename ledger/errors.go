/*
errors.go - Centralized error types for the storefront engines

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Engines return these; the API layer maps them to HTTP statuses with
  the Is* helpers.

ERROR CATEGORIES:
  1. Authentication / input errors - Bad or missing caller data
  2. Precondition errors - Inactive product, unverified identity
  3. Resource errors - Stock or balance shortfalls (carry detail)
  4. Conflict errors - Double-settlement attempts

USAGE:
  Structured errors unwrap to their sentinel, so callers can match
  either way:

    var stockErr *ledger.InsufficientStockError
    if errors.As(err, &stockErr) {
        // stockErr.Available for the user-facing message
    }
    if errors.Is(err, ledger.ErrInsufficientStock) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when the caller cannot be resolved
	// to a user record.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidInput is returned for malformed quantities, amounts, or
	// missing fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrPlanNotFound is returned when a product has no plan matching the
	// requested label.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrChargeNotFound is returned when a referenced charge log doesn't exist.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrProductUnavailable is returned when purchasing an inactive product.
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrVerificationRequired is returned when an unverified user requests
	// a wallet charge.
	ErrVerificationRequired = errors.New("identity verification required")

	// ErrBelowMinimum is returned when a charge amount is under the
	// configured minimum.
	ErrBelowMinimum = errors.New("amount below minimum")

	// ErrInsufficientStock is returned when a plan's pool cannot cover the
	// requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientBalance is returned when the wallet cannot cover the
	// total price.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyProcessed is returned when settling a charge that already
	// reached a terminal state. This is expected behavior for callback
	// replays.
	ErrAlreadyProcessed = errors.New("charge already processed")

	// ErrDuplicateID is returned when registering an ID that already exists.
	ErrDuplicateID = errors.New("id already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports the exact remaining inventory.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: %d available, %d requested", e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InsufficientBalanceError reports the required/current/shortfall amounts.
type InsufficientBalanceError struct {
	Required int64
	Current  int64
}

func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Required - e.Current
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, current %d, shortfall %d",
		e.Required, e.Current, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AlreadyProcessedError identifies the charge and the terminal state it
// already reached.
type AlreadyProcessedError struct {
	ChargeID int64
	Status   ChargeStatus
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("charge %d already processed (status: %s)", e.ChargeID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error {
	return ErrAlreadyProcessed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsConflict returns true for double-settlement and duplicate-ID errors.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrDuplicateID)
}

// IsClientError returns true if the error is due to the caller's input or
// state, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrVerificationRequired) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientBalance) ||
		IsNotFound(err) ||
		IsConflict(err)
}
