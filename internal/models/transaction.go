package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a payment request
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusSuccess    TransactionStatus = "SUCCESS"
	StatusFailed     TransactionStatus = "FAILED"
)

// Failure reasons recorded on FAILED transactions
const (
	ReasonRetriesExhausted      = "provider_retries_exhausted"
	ReasonProviderDeclined      = "provider_declined"
	ReasonReconciliationTimeout = "reconciliation_timeout"
	ReasonUnsupportedProvider   = "unsupported_provider"
	ReasonQueueFull             = "worker_queue_full"
)

// ReasonConfirmedUnsettled marks a PROCESSING transaction the provider confirmed but the
// ledger could not record. It needs manual reconciliation.
const ReasonConfirmedUnsettled = "provider_confirmed_unsettled"

var statuses = []TransactionStatus{StatusPending, StatusProcessing, StatusSuccess, StatusFailed}

// IsTerminal reports whether no further transition is allowed
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is a known status
func (s TransactionStatus) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal edge
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusSuccess || next == StatusFailed
	case StatusProcessing:
		return next == StatusSuccess || next == StatusFailed
	}
	return false
}

// Sources lists every status with a legal edge into next
func Sources(next TransactionStatus) []TransactionStatus {
	var out []TransactionStatus
	for _, s := range statuses {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// Transaction represents a single payment request
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	MerchantID     string            `json:"merchant_id" db:"merchant_id"`
	Amount         decimal.Decimal   `json:"amount" db:"amount"`
	Currency       string            `json:"currency" db:"currency"`
	Provider       string            `json:"provider" db:"provider"`
	Destination    string            `json:"destination" db:"destination"`
	Status         TransactionStatus `json:"status" db:"status"`
	IdempotencyKey string            `json:"idempotency_key" db:"idempotency_key"`
	ProviderRef    string            `json:"provider_ref,omitempty" db:"provider_ref"`
	FeeVersion     string            `json:"fee_version,omitempty" db:"fee_version"`
	StatusReason   string            `json:"status_reason,omitempty" db:"status_reason"`
	Metadata       Metadata          `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// FailureReason returns the reason recorded when the transaction failed
func (t *Transaction) FailureReason() string {
	if t.Status != StatusFailed {
		return ""
	}
	return t.StatusReason
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
