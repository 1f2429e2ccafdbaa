package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/retry"
	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/shopspring/decimal"
)

// Only a PENDING transaction is pushed, retried or timed out by checkout
var pushableStatuses = []models.TransactionStatus{models.StatusPending}

// InitiateRequest is a validated checkout intent
type InitiateRequest struct {
	MerchantID     string          `validate:"required"`
	Amount         decimal.Decimal `validate:"-"`
	Provider       string          `validate:"required"`
	Phone          string
	AccountNumber  string
	IdempotencyKey string `validate:"max=64"`
	Metadata       models.Metadata
}

type CheckoutDeps struct {
	Store    LedgerStore
	Router   *RouterService
	Registry *providers.Registry
	Settler  *Settler
	Jobs     worker.Scheduler
	Limiter  *RateLimiter
	Policy   retry.Policy
	Currency string
}

// CheckoutService creates transactions and drives the provider push for each one
type CheckoutService struct {
	store     LedgerStore
	router    *RouterService
	registry  *providers.Registry
	settler   *Settler
	jobs      worker.Scheduler
	limiter   *RateLimiter
	policy    retry.Policy
	currency  string
	validator *ValidationHelper
}

func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		store:     deps.Store,
		router:    deps.Router,
		registry:  deps.Registry,
		settler:   deps.Settler,
		jobs:      deps.Jobs,
		limiter:   deps.Limiter,
		policy:    deps.Policy,
		currency:  deps.Currency,
		validator: NewValidationHelper(),
	}
}

// Checkout initiates the transaction and hands the provider push to the worker pool.
// A replayed idempotency key returns the original transaction without a second push.
func (s *CheckoutService) Checkout(ctx context.Context, req InitiateRequest) (*models.Transaction, error) {
	tx, created, err := s.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !created {
		logging.LOGGER.Infof("[CHECKOUT] idempotent replay of %s for merchant %s", tx.ID, tx.MerchantID)
		return tx, nil
	}

	if err := s.Submit(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Initiate validates and routes the request, then commits a PENDING transaction before any network call
func (s *CheckoutService) Initiate(ctx context.Context, req InitiateRequest) (*models.Transaction, bool, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, false, err
	}
	if !req.Amount.IsPositive() {
		return nil, false, NewValidationError("amount", "amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, false, NewValidationError("amount", "amount supports at most 2 decimal places")
	}

	route, err := s.router.Route(RouteRequest{
		Provider:      req.Provider,
		Phone:         req.Phone,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		return nil, false, err
	}

	if err := s.limiter.Allow(ctx, req.MerchantID); err != nil {
		return nil, false, err
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = NewIdempotencyKey()
	}

	tx := &models.Transaction{
		ID:             NewTransactionRef(),
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       s.currency,
		Provider:       route.Provider,
		Destination:    route.Destination,
		Status:         models.StatusPending,
		IdempotencyKey: idempotencyKey,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}

	stored, created, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.Transitions.WithLabelValues(string(models.StatusPending), "checkout").Inc()
		logging.LOGGER.Infof("[CHECKOUT] %s created for merchant %s: %s %s via %s",
			stored.ID, stored.MerchantID, stored.Amount.StringFixed(2), stored.Currency, stored.Provider)
	}
	return stored, created, nil
}

// Submit schedules Settle for tx. When the queue is full the transaction fails immediately.
func (s *CheckoutService) Submit(tx *models.Transaction) error {
	err := s.jobs.Submit(worker.Job{
		Kind: "settle",
		Ref:  tx.ID,
		Run: func(ctx context.Context) error {
			return s.Settle(ctx, tx.ID)
		},
	})
	if err == nil {
		return nil
	}

	if _, ferr := s.settler.Fail(context.Background(), tx.ID, pushableStatuses, models.ReasonQueueFull, "checkout"); ferr != nil {
		logging.LOGGER.Errorf("[CHECKOUT] %s could not be failed after rejected submit: %v", tx.ID, ferr)
	}
	return err
}

// GetStatus returns the merchant's own transaction
func (s *CheckoutService) GetStatus(ctx context.Context, txID, merchantID string) (*models.Transaction, error) {
	return s.store.GetMerchantTransaction(ctx, txID, merchantID)
}

// Settle runs the first provider push for txID. Each later attempt is its own job,
// queued after the policy delay, so a failing provider never holds a worker while it waits.
func (s *CheckoutService) Settle(ctx context.Context, txID string) error {
	return s.attempt(ctx, txID, 1)
}

// attempt starts from the stored status, so a callback that lands during a backoff ends the chain
func (s *CheckoutService) attempt(ctx context.Context, txID string, attempt int) error {
	tx, gateway, err := s.pushable(ctx, txID)
	if err != nil || tx == nil {
		return err
	}

	logging.LOGGER.Infof("[CHECKOUT] %s attempt %d/%d via %s", txID, attempt, s.policy.Attempts, gateway.Name())
	ack, err := gateway.Push(ctx, tx.Destination, tx.Amount, tx.ID)
	if err == nil && ack.Status == providers.AckError {
		err = errors.New("provider rejected push: " + ack.Message)
	}
	if err != nil {
		metrics.ProviderAttempts.WithLabelValues(gateway.Name(), "error").Inc()
		logging.LOGGER.Warningf("[CHECKOUT] %s attempt %d failed: %v", txID, attempt, err)

		if wait, ok := s.policy.Next(attempt, err); ok {
			s.schedule(wait, "settle", txID, func(ctx context.Context) error {
				return s.attempt(ctx, txID, attempt+1)
			})
			return nil
		}

		// The provider gets one more delay window to call back before the transaction is given up.
		s.schedule(s.policy.Delay(attempt), "settle_expiry", txID, func(ctx context.Context) error {
			return s.expire(ctx, txID, err)
		})
		return nil
	}

	metrics.ProviderAttempts.WithLabelValues(gateway.Name(), strings.ToLower(string(ack.Status))).Inc()
	return s.apply(ctx, tx, gateway.Name(), ack.Status, ack.ProviderRef, "checkout")
}

// expire asks the provider for its final word, then fails the transaction if it is still PENDING
func (s *CheckoutService) expire(ctx context.Context, txID string, lastErr error) error {
	tx, gateway, err := s.pushable(ctx, txID)
	if err != nil || tx == nil {
		return err
	}

	status, err := gateway.Status(ctx, tx.ID)
	if err != nil {
		logging.LOGGER.Warningf("[CHECKOUT] %s status check failed: %v", txID, err)
		status = providers.AckError
	}
	metrics.ProviderAttempts.WithLabelValues(gateway.Name(), "status_"+strings.ToLower(string(status))).Inc()

	if status == providers.AckSuccess || status == providers.AckPending {
		logging.LOGGER.Infof("[CHECKOUT] %s reported %s by %s after %d failed pushes", txID, status, gateway.Name(), s.policy.Attempts)
		return s.apply(ctx, tx, gateway.Name(), status, "", "status_check")
	}

	failed, err := s.settler.Fail(ctx, txID, pushableStatuses, models.ReasonRetriesExhausted, "checkout")
	if err != nil {
		return err
	}
	if failed {
		logging.LOGGER.Errorf("[CHECKOUT] %s failed after %d attempts: %v", txID, s.policy.Attempts, lastErr)
	}
	return nil
}

// apply records what the provider said about a pushed transaction
func (s *CheckoutService) apply(ctx context.Context, tx *models.Transaction, provider string, status providers.AckStatus, providerRef, source string) error {
	if status != providers.AckSuccess {
		_, err := s.settler.MarkProcessing(ctx, tx.ID, source)
		return err
	}

	_, err := s.settler.Settle(ctx, tx, providerRef, source)
	if err == nil || errors.Is(err, ErrAlreadyProcessed) {
		return nil
	}

	// Money moved but the ledger did not record it. PROCESSING keeps the sweep from failing it.
	metrics.ConfirmedUnsettled.WithLabelValues(provider).Inc()
	logging.LOGGER.Criticalf("[CHECKOUT] %s confirmed by %s but settlement failed: %v", tx.ID, provider, err)
	if _, herr := s.settler.Hold(ctx, tx.ID, models.ReasonConfirmedUnsettled, source); herr != nil {
		logging.LOGGER.Criticalf("[CHECKOUT] %s could not be held for manual reconciliation: %v", tx.ID, herr)
	}
	return err
}

// pushable loads txID and its gateway, or returns nil when the transaction is no longer PENDING
func (s *CheckoutService) pushable(ctx context.Context, txID string) (*models.Transaction, providers.Gateway, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != models.StatusPending {
		logging.LOGGER.Infof("[CHECKOUT] %s is %s, nothing left to push", txID, tx.Status)
		return nil, nil, nil
	}

	gateway, err := s.registry.Resolve(tx.Provider)
	if err != nil {
		logging.LOGGER.Errorf("[CHECKOUT] %s: %v", txID, err)
		_, ferr := s.settler.Fail(ctx, txID, pushableStatuses, models.ReasonUnsupportedProvider, "checkout")
		return nil, nil, ferr
	}
	return tx, gateway, nil
}

func (s *CheckoutService) schedule(wait time.Duration, kind, txID string, run func(ctx context.Context) error) {
	logging.LOGGER.Infof("[CHECKOUT] %s %s scheduled in %s", txID, kind, wait)
	s.jobs.SubmitAfter(wait, worker.Job{
		Kind: kind,
		Ref:  txID,
		Run:  run,
		Rejected: func(err error) {
			if errors.Is(err, worker.ErrStopped) {
				logging.LOGGER.Warningf("[CHECKOUT] %s left PENDING at shutdown", txID)
				return
			}
			if _, ferr := s.settler.Fail(context.Background(), txID, pushableStatuses, models.ReasonQueueFull, "checkout"); ferr != nil {
				logging.LOGGER.Errorf("[CHECKOUT] %s could not be failed after rejected retry: %v", txID, ferr)
			}
		},
	})
}

// NewTransactionRef returns a KP-XXXXXXXX reference
func NewTransactionRef() string {
	return "KP-" + strings.ToUpper(hexID()[:8])
}

// NewIdempotencyKey returns an IDEM-XXXXXXXXXXXX key
func NewIdempotencyKey() string {
	return "IDEM-" + strings.ToUpper(hexID()[:12])
}

func hexID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
