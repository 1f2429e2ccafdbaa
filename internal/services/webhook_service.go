package services

import (
	"context"
	"errors"
	"strings"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/shopspring/decimal"
)

// Outcome is the acknowledgement returned to a provider callback
type Outcome string

const (
	OutcomeSettled          Outcome = "SETTLED"
	OutcomeFailed           Outcome = "FAILED_ACKNOWLEDGED"
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
	OutcomeNotFound         Outcome = "NOT_FOUND"
)

// Callback is a provider's asynchronous report on a transaction
type Callback struct {
	TransactionID string
	Status        string
	Amount        *decimal.Decimal
	ProviderRef   string
}

// WebhookService applies provider callbacks. Delivery is at-least-once, so every
// outcome other than a storage error is an acknowledgement.
type WebhookService struct {
	store   LedgerStore
	settler *Settler
}

func NewWebhookService(store LedgerStore, settler *Settler) *WebhookService {
	return &WebhookService{
		store:   store,
		settler: settler,
	}
}

func (s *WebhookService) OnCallback(ctx context.Context, provider string, cb Callback) (Outcome, error) {
	outcome, err := s.onCallback(ctx, provider, cb)
	if err == nil {
		metrics.WebhookCallbacks.WithLabelValues(strings.ToUpper(provider), string(outcome)).Inc()
	}
	return outcome, err
}

func (s *WebhookService) onCallback(ctx context.Context, provider string, cb Callback) (Outcome, error) {
	if cb.TransactionID == "" {
		return "", NewValidationError("transaction_id", "missing transaction reference")
	}

	tx, err := s.store.GetTransaction(ctx, cb.TransactionID)
	if errors.Is(err, ErrTransactionNotFound) {
		logging.LOGGER.Warningf("[WEBHOOK] %s callback for unknown transaction %s", provider, cb.TransactionID)
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if family(tx.Provider) != family(provider) {
		logging.LOGGER.Warningf("[WEBHOOK] %s callback for %s transaction %s rejected", provider, tx.Provider, tx.ID)
		return "", NewValidationError("provider", "callback provider does not own transaction")
	}

	if tx.Status.IsTerminal() {
		return OutcomeAlreadyProcessed, nil
	}

	if cb.Amount != nil && !cb.Amount.Equal(tx.Amount) {
		logging.LOGGER.Warningf("[WEBHOOK] %s amount mismatch: callback=%s stored=%s, using stored amount",
			tx.ID, cb.Amount.StringFixed(2), tx.Amount.StringFixed(2))
	}

	if providers.ParseAckStatus(cb.Status) != providers.AckSuccess {
		failed, err := s.settler.Fail(ctx, tx.ID, settleableStatuses, models.ReasonProviderDeclined, "webhook")
		if err != nil {
			return "", err
		}
		if !failed {
			return OutcomeAlreadyProcessed, nil
		}
		logging.LOGGER.Infof("[WEBHOOK] %s reported %q for %s", provider, cb.Status, tx.ID)
		return OutcomeFailed, nil
	}

	if _, err := s.settler.Settle(ctx, tx, cb.ProviderRef, "webhook"); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return OutcomeAlreadyProcessed, nil
		}
		return "", err
	}
	return OutcomeSettled, nil
}

func family(provider string) string {
	return strings.SplitN(strings.ToUpper(provider), "_", 2)[0]
}
