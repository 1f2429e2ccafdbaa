package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyProcessed reports a settlement attempt on a terminal transaction. It is a no-op, not a failure.
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// ValidationError is malformed or unroutable input, rejected before any state exists
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthenticationError is a bad signature, unknown key or inactive merchant
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ProviderTransportError is raised by gateways when the network cannot be reached
type ProviderTransportError = providers.TransportError

// LedgerIntegrityViolation means the postings no longer sum to zero
type LedgerIntegrityViolation struct {
	Delta decimal.Decimal
}

func (e *LedgerIntegrityViolation) Error() string {
	return fmt.Sprintf("ledger out of balance by %s", e.Delta.StringFixed(4))
}

// HTTPStatus maps the error taxonomy onto response codes
func HTTPStatus(err error) int {
	var validationErr *ValidationError
	var authErr *AuthenticationError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, ErrMerchantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
