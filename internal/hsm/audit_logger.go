package hsm

import (
	"encoding/json"
	"time"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/shopspring/decimal"
)

type AuditEvent struct {
	Timestamp     time.Time        `json:"timestamp"`
	EventType     string           `json:"event_type"`
	TransactionID string           `json:"transaction_id"`
	AccountID     string           `json:"account_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Status        string           `json:"status"`
	Details       any              `json:"details,omitempty"`
}

// AuditLogger writes one JSON line per security or money-moving event
type AuditLogger struct {
	sink func(line string)
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{sink: func(line string) {
		logging.LOGGER.Noticef("AUDIT: %s", line)
	}}
}

// NewAuditLoggerWithSink is used where audit lines need to be captured
func NewAuditLoggerWithSink(sink func(line string)) *AuditLogger {
	return &AuditLogger{sink: sink}
}

// LogSettlement records a completed split for a transaction
func (a *AuditLogger) LogSettlement(transactionID, merchantID string, gross decimal.Decimal, feeVersion string, postings map[string]string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "SETTLEMENT",
		TransactionID: transactionID,
		AccountID:     merchantID,
		Amount:        &gross,
		Status:        "SUCCESS",
		Details: map[string]any{
			"fee_version": feeVersion,
			"postings":    postings,
		},
	}
	a.log(event)
}

// LogTransition records a status change that did not move money
func (a *AuditLogger) LogTransition(transactionID, from, to, reason string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "TRANSITION",
		TransactionID: transactionID,
		Status:        to,
		Details:       map[string]string{"from": from, "reason": reason},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(transactionID, accountID string, err error) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) LogOperation(transactionID, accountID, operation, details string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     operation,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	if a == nil || a.sink == nil {
		return
	}
	data, _ := json.Marshal(event)
	a.sink(string(data))
}
