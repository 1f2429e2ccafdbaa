package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
	name string
}

func (m *MockGateway) Name() string { return m.name }

func (m *MockGateway) Push(ctx context.Context, destination string, amount decimal.Decimal, ref string) (providers.Ack, error) {
	args := m.Called(destination, amount.StringFixed(2), ref)
	return args.Get(0).(providers.Ack), args.Error(1)
}

func (m *MockGateway) VerifyCallback(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *MockGateway) Status(ctx context.Context, ref string) (providers.AckStatus, error) {
	args := m.Called(ref)
	return args.Get(0).(providers.AckStatus), args.Error(1)
}

type MockMerchantStore struct {
	mock.Mock
}

func (m *MockMerchantStore) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Merchant), args.Error(1)
}

func (m *MockMerchantStore) GetMerchantByAPIKeyHash(ctx context.Context, hash string) (*models.Merchant, error) {
	args := m.Called(hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Merchant), args.Error(1)
}

func (m *MockMerchantStore) CreateMerchant(ctx context.Context, merchant *models.Merchant) error {
	args := m.Called(merchant)
	return args.Error(0)
}

func (m *MockMerchantStore) SaveCredentials(ctx context.Context, merchantID string, sealedSecret []byte, apiKeyHash string) error {
	args := m.Called(merchantID, sealedSecret, apiKeyHash)
	return args.Error(0)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SettlementEvent
}

func (n *recordingNotifier) NotifySettled(ctx context.Context, event models.SettlementEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

// queuedJobs holds submitted and delayed jobs until the test runs them
type queuedJobs struct {
	jobs          []worker.Job
	reject        error
	delayed       []worker.Job
	waits         []time.Duration
	rejectDelayed error
	beforeDelayed func(n int)
}

func (q *queuedJobs) Submit(job worker.Job) error {
	if q.reject != nil {
		return q.reject
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queuedJobs) SubmitAfter(d time.Duration, job worker.Job) {
	q.waits = append(q.waits, d)
	if q.rejectDelayed != nil {
		if job.Rejected != nil {
			job.Rejected(q.rejectDelayed)
		}
		return
	}
	q.delayed = append(q.delayed, job)
}

// drain runs every delayed job in order, including the ones they schedule in turn
func (q *queuedJobs) drain(ctx context.Context) error {
	for n := 1; len(q.delayed) > 0; n++ {
		job := q.delayed[0]
		q.delayed = q.delayed[1:]
		if q.beforeDelayed != nil {
			q.beforeDelayed(n)
		}
		if err := job.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// memStore is an in-memory LedgerStore with the same compare-and-swap rules as LedgerService
type memStore struct {
	mu           sync.Mutex
	transactions map[string]*models.Transaction
	entries      []models.LedgerEntry
	balances     map[string]decimal.Decimal
	settleErr    error
}

func newMemStore() *memStore {
	return &memStore{
		transactions: make(map[string]*models.Transaction),
		balances:     make(map[string]decimal.Decimal),
	}
}

func (s *memStore) CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transactions {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			if existing.MerchantID != tx.MerchantID {
				return nil, false, NewValidationError("idempotency_key", "already used")
			}
			copied := *existing
			return &copied, false, nil
		}
	}

	if tx.Metadata == nil {
		tx.Metadata = models.Metadata{}
	}
	stored := *tx
	s.transactions[tx.ID] = &stored
	return tx, true, nil
}

func (s *memStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *memStore) GetMerchantTransaction(ctx context.Context, id, merchantID string) (*models.Transaction, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.MerchantID != merchantID {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || !statusIn(tx.Status, from) {
		return false, nil
	}
	s.apply(tx, to, reason)
	return true, nil
}

func (s *memStore) SettleTransaction(ctx context.Context, id, providerRef, feeVersion string, entries []models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settleErr != nil {
		return false, s.settleErr
	}
	tx, ok := s.transactions[id]
	if !ok || !statusIn(tx.Status, settleableStatuses) {
		return false, nil
	}

	s.apply(tx, models.StatusSuccess, "")
	tx.FeeVersion = feeVersion
	if providerRef != "" {
		tx.ProviderRef = providerRef
	}
	for _, e := range entries {
		s.entries = append(s.entries, e)
		s.balances[e.AccountID] = s.balances[e.AccountID].Add(e.SignedAmount())
	}
	return true, nil
}

func (s *memStore) FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, tx := range s.transactions {
		if tx.Status == models.StatusPending && tx.CreatedAt.Before(cutoff) {
			s.apply(tx, models.StatusFailed, reason)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) LedgerDelta(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := decimal.Zero
	for _, e := range s.entries {
		delta = delta.Add(e.SignedAmount())
	}
	return delta, nil
}

func (s *memStore) EntriesForTransaction(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) apply(tx *models.Transaction, to models.TransactionStatus, reason string) {
	now := time.Now()
	tx.Status = to
	tx.UpdatedAt = now
	if to.IsTerminal() {
		tx.CompletedAt = &now
	}
	if reason != "" {
		tx.StatusReason = reason
	}
}

func (s *memStore) put(tx *models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.Metadata == nil {
		tx.Metadata = models.Metadata{}
	}
	s.transactions[tx.ID] = tx
}

func statusIn(status models.TransactionStatus, set []models.TransactionStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func testSettler(store LedgerStore, notifier Notifier) *Settler {
	return NewSettler(store, NewCommissionCalculator(config.DefaultFeeSchedule()), notifier, nil)
}

func pendingTx(id, provider, amount string) *models.Transaction {
	return &models.Transaction{
		ID:             id,
		MerchantID:     "merchant-1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "MWK",
		Provider:       provider,
		Destination:    "881234567",
		Status:         models.StatusPending,
		IdempotencyKey: "IDEM-" + id,
		CreatedAt:      time.Now(),
	}
}
