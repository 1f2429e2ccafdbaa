package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kwikpesa/gateway/internal/hsm"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"github.com/kwikpesa/gateway/internal/models"
)

// Notifier fans a settlement out to merchants, customers and downstream consumers.
// Implementations must not block on delivery.
type Notifier interface {
	NotifySettled(ctx context.Context, event models.SettlementEvent)
}

// Settler owns every status change of a transaction. The inline checkout path and the
// provider callback path both settle through it, guarded by the same compare-and-swap.
type Settler struct {
	store      LedgerStore
	commission *CommissionCalculator
	notifier   Notifier
	audit      *hsm.AuditLogger
}

func NewSettler(store LedgerStore, commission *CommissionCalculator, notifier Notifier, audit *hsm.AuditLogger) *Settler {
	return &Settler{
		store:      store,
		commission: commission,
		notifier:   notifier,
		audit:      audit,
	}
}

// Settle splits, posts and flips tx to SUCCESS. A transaction that is already terminal,
// or is settled concurrently by another path, yields ErrAlreadyProcessed and no postings.
func (s *Settler) Settle(ctx context.Context, tx *models.Transaction, providerRef, source string) (Split, error) {
	if tx.Status.IsTerminal() {
		return Split{}, ErrAlreadyProcessed
	}

	split, err := s.commission.Split(tx.Amount, tx.Provider)
	if err != nil {
		return Split{}, err
	}
	accounts := s.commission.Accounts()
	entries := split.Postings(tx.ID, tx.MerchantID, accounts)

	settled, err := s.store.SettleTransaction(ctx, tx.ID, providerRef, split.FeeVersion, entries)
	if err != nil {
		var violation *LedgerIntegrityViolation
		if errors.As(err, &violation) {
			logging.LOGGER.Criticalf("[SETTLE] %s: unbalanced postings refused: %v", tx.ID, err)
		}
		s.audit.LogError(tx.ID, tx.MerchantID, err)
		return Split{}, err
	}
	if !settled {
		logging.LOGGER.Infof("[SETTLE] %s already processed, %s settlement skipped", tx.ID, source)
		return Split{}, ErrAlreadyProcessed
	}

	metrics.Transitions.WithLabelValues(string(models.StatusSuccess), source).Inc()
	metrics.SettledAmount.WithLabelValues(tx.Provider).Add(split.Gross.InexactFloat64())

	s.audit.LogSettlement(tx.ID, tx.MerchantID, split.Gross, split.FeeVersion, map[string]string{
		tx.MerchantID:            "credit " + split.MerchantNet.StringFixed(2),
		accounts.PlatformRevenue: "credit " + split.PlatformFee.StringFixed(2),
		accounts.ProviderExpense: "debit " + split.ProviderCost.StringFixed(2),
		accounts.Treasury:        "debit " + split.TreasuryDebit.StringFixed(2),
	})
	logging.LOGGER.Infof("[SETTLE] %s settled via %s: gross=%s net=%s fee=%s cost=%s",
		tx.ID, source, split.Gross.StringFixed(2), split.MerchantNet.StringFixed(2),
		split.PlatformFee.StringFixed(2), split.ProviderCost.StringFixed(2))

	if s.notifier != nil {
		if providerRef == "" {
			providerRef = tx.ProviderRef
		}
		s.notifier.NotifySettled(ctx, models.SettlementEvent{
			TransactionID: tx.ID,
			MerchantID:    tx.MerchantID,
			Provider:      tx.Provider,
			Destination:   tx.Destination,
			Currency:      tx.Currency,
			Amount:        split.Gross,
			MerchantNet:   split.MerchantNet,
			PlatformFee:   split.PlatformFee,
			ProviderCost:  split.ProviderCost,
			FeeVersion:    split.FeeVersion,
			ProviderRef:   providerRef,
			Status:        string(models.StatusSuccess),
			SettledAt:     time.Now().UTC(),
		})
	}
	return split, nil
}

// MarkProcessing records that the provider is waiting on the customer
func (s *Settler) MarkProcessing(ctx context.Context, txID, source string) (bool, error) {
	return s.transition(ctx, txID, models.Sources(models.StatusProcessing), models.StatusProcessing, "", source)
}

// Hold parks a PENDING transaction in PROCESSING with reason, out of reach of the stale sweep,
// until an operator reconciles it.
func (s *Settler) Hold(ctx context.Context, txID, reason, source string) (bool, error) {
	return s.transition(ctx, txID, models.Sources(models.StatusProcessing), models.StatusProcessing, reason, source)
}

// Fail moves a transaction to FAILED, only while it is still in one of from
func (s *Settler) Fail(ctx context.Context, txID string, from []models.TransactionStatus, reason, source string) (bool, error) {
	return s.transition(ctx, txID, from, models.StatusFailed, reason, source)
}

func (s *Settler) transition(ctx context.Context, txID string, from []models.TransactionStatus, to models.TransactionStatus, reason, source string) (bool, error) {
	for _, status := range from {
		if !status.CanTransition(to) {
			return false, fmt.Errorf("illegal transition %s -> %s for %s", status, to, txID)
		}
	}

	changed, err := s.store.TransitionStatus(ctx, txID, from, to, reason)
	if err != nil {
		s.audit.LogError(txID, "", err)
		return false, err
	}
	if !changed {
		return false, nil
	}

	metrics.Transitions.WithLabelValues(string(to), source).Inc()
	s.audit.LogTransition(txID, strings.Join(statusStrings(from), "|"), string(to), reason)
	logging.LOGGER.Infof("[SETTLE] %s -> %s (%s) via %s", txID, to, reason, source)
	return true, nil
}
