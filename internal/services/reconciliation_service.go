package services

import (
	"context"
	"time"

	"github.com/kwikpesa/gateway/internal/hsm"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/shopspring/decimal"
)

// AuditReport is the result of one reconciliation pass
type AuditReport struct {
	Delta       decimal.Decimal `json:"delta"`
	Balanced    bool            `json:"balanced"`
	StaleFailed []string        `json:"stale_failed"`
	RanAt       time.Time       `json:"ran_at"`
}

// ReconciliationService checks the ledger and times out abandoned transactions.
// It reports imbalance but never writes postings.
type ReconciliationService struct {
	store        LedgerStore
	staleTimeout time.Duration
	interval     time.Duration
	audit        *hsm.AuditLogger
}

func NewReconciliationService(store LedgerStore, staleTimeout, interval time.Duration, audit *hsm.AuditLogger) *ReconciliationService {
	return &ReconciliationService{
		store:        store,
		staleTimeout: staleTimeout,
		interval:     interval,
		audit:        audit,
	}
}

// CheckLedgerIntegrity returns *LedgerIntegrityViolation when credits and debits differ
func (s *ReconciliationService) CheckLedgerIntegrity(ctx context.Context) (decimal.Decimal, error) {
	delta, err := s.store.LedgerDelta(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	metrics.LedgerDelta.Set(delta.InexactFloat64())
	if !delta.IsZero() {
		logging.LOGGER.Criticalf("[RECONCILE] CRITICAL: ledger imbalance detected, delta=%s", delta.String())
		return delta, &LedgerIntegrityViolation{Delta: delta}
	}
	return delta, nil
}

// CleanupStale fails every PENDING transaction created before now minus the stale timeout
func (s *ReconciliationService) CleanupStale(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.Add(-s.staleTimeout)
	ids, err := s.store.FailStalePending(ctx, cutoff, models.ReasonReconciliationTimeout)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		metrics.StaleFailed.Inc()
		metrics.Transitions.WithLabelValues(string(models.StatusFailed), "reconciliation").Inc()
		s.audit.LogTransition(id, string(models.StatusPending), string(models.StatusFailed), models.ReasonReconciliationTimeout)
	}
	if len(ids) > 0 {
		logging.LOGGER.Warningf("[RECONCILE] failed %d stale transactions older than %s", len(ids), s.staleTimeout)
	}
	return ids, nil
}

// RunAudit runs both checks. Stale cleanup still runs when the ledger is out of balance.
func (s *ReconciliationService) RunAudit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{RanAt: time.Now().UTC()}

	delta, integrityErr := s.CheckLedgerIntegrity(ctx)
	report.Delta = delta
	report.Balanced = integrityErr == nil

	ids, err := s.CleanupStale(ctx, report.RanAt)
	if err != nil {
		return report, err
	}
	report.StaleFailed = ids

	return report, integrityErr
}

// Start runs RunAudit every interval until ctx is done
func (s *ReconciliationService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.LOGGER.Infof("[RECONCILE] sweeper started, interval=%s stale_timeout=%s", s.interval, s.staleTimeout)
	for {
		select {
		case <-ctx.Done():
			logging.LOGGER.Info("[RECONCILE] sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunAudit(ctx); err != nil {
				logging.LOGGER.Errorf("[RECONCILE] audit failed: %v", err)
			}
		}
	}
}
