package credit

import (
	"errors"
	"fmt"

	"github.com/xraph/credit/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("credit: invalid input")
	ErrUnauthorized = errors.New("credit: unauthorized")
	ErrForbidden    = errors.New("credit: forbidden")

	// Account errors
	ErrAccountNotFound = errors.New("credit: account not found")
	ErrAccountExists   = errors.New("credit: account already exists")

	// Balance errors
	ErrInvalidAmount     = errors.New("credit: amount must be positive")
	ErrCurrencyMismatch  = errors.New("credit: currency mismatch")
	ErrInsufficientFunds = errors.New("credit: insufficient funds")

	// Emission errors
	ErrMissingEmissionID = errors.New("credit: emission id is required")
	ErrRefundMismatch    = errors.New("credit: refund amount does not match consumption")
	ErrNothingToRefund   = errors.New("credit: nothing to refund for emission")
	ErrEmissionClosed    = errors.New("credit: emission already refunded and closed")
	ErrDuplicateEmission = errors.New("credit: duplicate emission transaction")
	ErrCarrierDisabled   = errors.New("credit: carrier not enabled for client")

	// Record errors
	ErrTransactionNotFound   = errors.New("credit: transaction not found")
	ErrSettingsNotFound      = errors.New("credit: settings not found")
	ErrClientPricingNotFound = errors.New("credit: client pricing not found")

	// Store errors
	ErrStorageConflict = errors.New("credit: storage conflict")
	ErrStoreClosed     = errors.New("credit: store is closed")
)

// InsufficientFundsError reports a rejected debit or consumption together
// with the balance it was checked against.
type InsufficientFundsError struct {
	ClientID  string
	Balance   types.Money
	Requested types.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("credit: insufficient funds for %s: balance %s, requested %s",
		e.ClientID, e.Balance, e.Requested)
}

// Shortfall is the amount missing to cover the request.
func (e *InsufficientFundsError) Shortfall() types.Money {
	return e.Requested.Subtract(e.Balance)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// RefundMismatchError reports a refund whose amount differs from the
// original consumption.
type RefundMismatchError struct {
	EmissionID string
	Consumed   types.Money
	Requested  types.Money
}

func (e *RefundMismatchError) Error() string {
	return fmt.Sprintf("credit: refund for emission %s must be %s, got %s",
		e.EmissionID, e.Consumed, e.Requested)
}

func (e *RefundMismatchError) Unwrap() error { return ErrRefundMismatch }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credit: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSettingsNotFound) ||
		errors.Is(err, ErrClientPricingNotFound)
}

// IsBusinessError returns true for expected outcomes of valid requests,
// as opposed to system faults.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRefundMismatch) ||
		errors.Is(err, ErrNothingToRefund) ||
		errors.Is(err, ErrEmissionClosed) ||
		errors.Is(err, ErrCarrierDisabled)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}
