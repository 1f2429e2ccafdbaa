package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/middleware"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/retry"
	"github.com/kwikpesa/gateway/internal/security"
	"github.com/kwikpesa/gateway/internal/services"
	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tnmCallbackSecret = "tnm-callback-secret"

// mapStore is a minimal LedgerStore with compare-and-swap status changes
type mapStore struct {
	mu           sync.Mutex
	transactions map[string]*models.Transaction
	entries      []models.LedgerEntry
}

func newMapStore() *mapStore {
	return &mapStore{transactions: make(map[string]*models.Transaction)}
}

func (s *mapStore) CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transactions {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			copied := *existing
			return &copied, false, nil
		}
	}
	stored := *tx
	if stored.Metadata == nil {
		stored.Metadata = models.Metadata{}
	}
	s.transactions[tx.ID] = &stored
	return tx, true, nil
}

func (s *mapStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, services.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (s *mapStore) GetMerchantTransaction(ctx context.Context, id, merchantID string) (*models.Transaction, error) {
	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.MerchantID != merchantID {
		return nil, services.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *mapStore) TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || !in(tx.Status, from) {
		return false, nil
	}
	tx.Status = to
	if reason != "" {
		tx.StatusReason = reason
	}
	return true, nil
}

func (s *mapStore) SettleTransaction(ctx context.Context, id, providerRef, feeVersion string, entries []models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok || !in(tx.Status, []models.TransactionStatus{models.StatusPending, models.StatusProcessing}) {
		return false, nil
	}
	tx.Status = models.StatusSuccess
	tx.ProviderRef = providerRef
	tx.FeeVersion = feeVersion
	s.entries = append(s.entries, entries...)
	return true, nil
}

func (s *mapStore) FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	return nil, nil
}

func (s *mapStore) LedgerDelta(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := decimal.Zero
	for _, e := range s.entries {
		delta = delta.Add(e.SignedAmount())
	}
	return delta, nil
}

func (s *mapStore) EntriesForTransaction(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	return nil, nil
}

func in(status models.TransactionStatus, set []models.TransactionStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

type heldJobs struct {
	jobs   []worker.Job
	reject error
}

func (q *heldJobs) Submit(job worker.Job) error {
	if q.reject != nil {
		return q.reject
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *heldJobs) SubmitAfter(d time.Duration, job worker.Job) {
	q.jobs = append(q.jobs, job)
}

type stubAuth struct {
	merchant *models.Merchant
}

func (a stubAuth) AuthenticateAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	if apiKey != "kp_live_good" {
		return nil, &services.AuthenticationError{Reason: "unknown api key"}
	}
	return a.merchant, nil
}

func (a stubAuth) AuthenticateSignature(ctx context.Context, merchantID, signature string, body []byte) (*models.Merchant, error) {
	if merchantID != a.merchant.ID || security.Verify("sk_live_test", signature, body) != nil {
		return nil, &services.AuthenticationError{Reason: "invalid signature"}
	}
	return a.merchant, nil
}

type fixture struct {
	store  *mapStore
	jobs   *heldJobs
	router chi.Router
}

func newFixture() *fixture {
	store := newMapStore()
	jobs := &heldJobs{}

	tnm := providers.NewTNMGateway(providers.Options{BaseURL: "http://127.0.0.1:0", CallbackSecret: tnmCallbackSecret})
	bank, _ := providers.LookupBank("NBM")
	registry := providers.NewRegistry(
		tnm,
		providers.NewAirtelGateway(providers.Options{BaseURL: "http://127.0.0.1:0", AllowUnsigned: true}),
		providers.NewBankGateway(bank, "MWK", providers.Options{BaseURL: "http://127.0.0.1:0", AllowUnsigned: true}),
	)

	settler := services.NewSettler(store, services.NewCommissionCalculator(config.DefaultFeeSchedule()), nil, nil)
	checkout := services.NewCheckoutService(services.CheckoutDeps{
		Store:    store,
		Router:   services.NewRouterService(),
		Registry: registry,
		Settler:  settler,
		Jobs:     jobs,
		Policy:   retry.Linear(3, time.Millisecond),
		Currency: "MWK",
	})

	checkoutHandler := NewCheckoutHandler(checkout)
	webhookHandler := NewWebhookHandler(services.NewWebhookService(store, settler), registry)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/{provider}", webhookHandler.ProviderCallback)
		r.Group(func(r chi.Router) {
			r.Use(middleware.MerchantAuth(stubAuth{merchant: &models.Merchant{ID: "merchant-1", IsActive: true}}))
			r.Post("/checkout", checkoutHandler.Checkout)
			r.Get("/transactions/{txRef}", checkoutHandler.GetTransaction)
		})
	})

	return &fixture{store: store, jobs: jobs, router: r}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func checkoutRequestWithKey(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, "kp_live_good")
	return req
}

func (f *fixture) seed(id, provider string) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.transactions[id] = &models.Transaction{
		ID:             id,
		MerchantID:     "merchant-1",
		Amount:         decimal.RequireFromString("10000"),
		Currency:       "MWK",
		Provider:       provider,
		Destination:    "881234567",
		Status:         models.StatusPending,
		IdempotencyKey: "IDEM-" + id,
		Metadata:       models.Metadata{},
	}
}

func TestCheckoutHandler_Checkout(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture()
		rec := f.do(checkoutRequestWithKey(`{"amount":10000,"provider":"TNM","phone":"0881234567"}`))

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp CheckoutResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "processing", resp.Status)
		assert.Equal(t, "TNM", resp.Provider)
		assert.Regexp(t, `^KP-[0-9A-F]{8}$`, resp.TxRef)
		require.Len(t, f.jobs.jobs, 1)
		assert.Equal(t, resp.TxRef, f.jobs.jobs[0].Ref)

		tx, err := f.store.GetTransaction(context.Background(), resp.TxRef)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, tx.Status)
		assert.Equal(t, "881234567", tx.Destination)
	})

	t.Run("signed request", func(t *testing.T) {
		f := newFixture()
		body := []byte(`{"merchant_id":"merchant-1","amount":"2500.50","provider":"MOBILE_MONEY","phone":"+265 991 234 567"}`)
		sig, err := security.Sign("sk_live_test", body)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/checkout", bytes.NewReader(body))
		req.Header.Set(middleware.SignatureHeader, sig)
		rec := f.do(req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), `"provider":"AIRTEL"`)
	})

	t.Run("bad signature creates nothing", func(t *testing.T) {
		f := newFixture()
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout",
			strings.NewReader(`{"merchant_id":"merchant-1","amount":1,"provider":"TNM","phone":"0881234567"}`))
		req.Header.Set(middleware.SignatureHeader, "deadbeef")
		rec := f.do(req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, f.store.transactions)
	})

	t.Run("missing credentials", func(t *testing.T) {
		f := newFixture()
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(`{}`))
		assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name  string
			body  string
			field string
		}{
			{"zero amount", `{"amount":0,"provider":"TNM","phone":"0881234567"}`, "amount"},
			{"three decimals", `{"amount":"10.005","provider":"TNM","phone":"0881234567"}`, "amount"},
			{"unknown network", `{"amount":100,"provider":"MOBILE_MONEY","phone":"0771234567"}`, "phone"},
			{"unknown provider", `{"amount":100,"provider":"MPESA","phone":"0881234567"}`, "provider"},
			{"short account", `{"amount":100,"provider":"BANK_NBM","account_number":"12"}`, "account_number"},
			{"other merchant", `{"merchant_id":"merchant-2","amount":100,"provider":"TNM","phone":"0881234567"}`, "merchant_id"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture()
				rec := f.do(checkoutRequestWithKey(tt.body))

				require.Equal(t, http.StatusBadRequest, rec.Code)
				var resp services.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Contains(t, resp.Details, tt.field)
				assert.Empty(t, f.store.transactions)
				assert.Empty(t, f.jobs.jobs)
			})
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture()
		assert.Equal(t, http.StatusBadRequest, f.do(checkoutRequestWithKey(`{"amount":1,"surprise":true}`)).Code)
		assert.Equal(t, http.StatusBadRequest, f.do(checkoutRequestWithKey(`{"amount":1}{"amount":2}`)).Code)
	})

	t.Run("idempotency key replay", func(t *testing.T) {
		f := newFixture()
		body := `{"amount":500,"provider":"AIRTEL","phone":"0991234567"}`

		first := checkoutRequestWithKey(body)
		first.Header.Set(IdempotencyKeyHeader, "order-77")
		second := checkoutRequestWithKey(body)
		second.Header.Set(IdempotencyKeyHeader, "order-77")

		var a, b CheckoutResponse
		require.NoError(t, json.Unmarshal(f.do(first).Body.Bytes(), &a))
		require.NoError(t, json.Unmarshal(f.do(second).Body.Bytes(), &b))

		assert.Equal(t, a.TxRef, b.TxRef)
		assert.Len(t, f.store.transactions, 1)
		assert.Len(t, f.jobs.jobs, 1)
	})

	t.Run("full queue", func(t *testing.T) {
		f := newFixture()
		f.jobs.reject = worker.ErrQueueFull
		rec := f.do(checkoutRequestWithKey(`{"amount":100,"provider":"TNM","phone":"0881234567"}`))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		for _, tx := range f.store.transactions {
			assert.Equal(t, models.StatusFailed, tx.Status)
			assert.Equal(t, models.ReasonQueueFull, tx.FailureReason())
		}
	})
}

func TestCheckoutHandler_GetTransaction(t *testing.T) {
	f := newFixture()
	f.seed("KP-0000AAAA", "TNM")

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions/KP-0000AAAA", nil)
	req.Header.Set(middleware.APIKeyHeader, "kp_live_good")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
	assert.True(t, resp.Amount.Equal(decimal.RequireFromString("10000")))

	f.store.transactions["KP-0000AAAA"].MerchantID = "merchant-2"
	assert.Equal(t, http.StatusNotFound, f.do(req).Code)

	missing := httptest.NewRequest(http.MethodGet, "/v1/transactions/KP-FFFFFFFF", nil)
	missing.Header.Set(middleware.APIKeyHeader, "kp_live_good")
	assert.Equal(t, http.StatusNotFound, f.do(missing).Code)
}

func signedCallback(t *testing.T, provider, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set(CallbackSignatureHeader, security.SignRaw(tnmCallbackSecret, []byte(body)))
	return req
}

func outcomeOf(t *testing.T, rec *httptest.ResponseRecorder) services.Outcome {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Status
}

func TestWebhookHandler_ProviderCallback(t *testing.T) {
	t.Run("success settles once", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000BBBB", "TNM")
		body := `{"transaction":{"id":"KP-0000BBBB","status":"SUCCESS"}}`

		assert.Equal(t, services.OutcomeSettled, outcomeOf(t, f.do(signedCallback(t, "tnm", body))))
		assert.Equal(t, services.OutcomeAlreadyProcessed, outcomeOf(t, f.do(signedCallback(t, "tnm", body))))

		assert.Equal(t, models.StatusSuccess, f.store.transactions["KP-0000BBBB"].Status)
		assert.Len(t, f.store.entries, 4)
		delta, _ := f.store.LedgerDelta(context.Background())
		assert.True(t, delta.IsZero())
	})

	t.Run("failure report", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000CCCC", "TNM")
		body := `{"transaction":{"id":"KP-0000CCCC","status":"FAILED"}}`

		assert.Equal(t, services.OutcomeFailed, outcomeOf(t, f.do(signedCallback(t, "tnm", body))))
		assert.Equal(t, models.StatusFailed, f.store.transactions["KP-0000CCCC"].Status)
		assert.Empty(t, f.store.entries)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		f := newFixture()
		body := `{"transaction":{"id":"KP-DEADBEEF","status":"SUCCESS"}}`
		assert.Equal(t, services.OutcomeNotFound, outcomeOf(t, f.do(signedCallback(t, "tnm", body))))
	})

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000DDDD", "TNM")
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/tnm",
			strings.NewReader(`{"transaction":{"id":"KP-0000DDDD","status":"SUCCESS"}}`))
		req.Header.Set(CallbackSignatureHeader, "forged")

		assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
		assert.Equal(t, models.StatusPending, f.store.transactions["KP-0000DDDD"].Status)
	})

	t.Run("missing transaction id", func(t *testing.T) {
		f := newFixture()
		body := `{"transaction":{"status":"SUCCESS"}}`
		assert.Equal(t, http.StatusBadRequest, f.do(signedCallback(t, "tnm", body)).Code)
	})

	t.Run("callback from another network", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000EEEE", "TNM")
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/airtel",
			strings.NewReader(`{"transaction":{"id":"KP-0000EEEE","status":"SUCCESS"}}`))

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
		assert.Equal(t, models.StatusPending, f.store.transactions["KP-0000EEEE"].Status)
	})

	t.Run("bank shape", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000FFFF", "BANK_NBM")
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/bank",
			strings.NewReader(`{"ext_ref":"KP-0000FFFF","payment_status":"COMPLETED","amount_cents":1000000}`))

		assert.Equal(t, services.OutcomeSettled, outcomeOf(t, f.do(req)))
		assert.Equal(t, models.StatusSuccess, f.store.transactions["KP-0000FFFF"].Status)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture()
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/mpesa", strings.NewReader(`{}`))
		assert.Equal(t, http.StatusNotFound, f.do(req).Code)
	})

	t.Run("unsigned callback without a configured secret", func(t *testing.T) {
		f := newFixture()
		f.seed("KP-0000ABCD", "AIRTEL")

		settler := services.NewSettler(f.store, services.NewCommissionCalculator(config.DefaultFeeSchedule()), nil, nil)
		strict := NewWebhookHandler(services.NewWebhookService(f.store, settler),
			providers.NewRegistry(providers.NewAirtelGateway(providers.Options{BaseURL: "http://127.0.0.1:0"})))
		r := chi.NewRouter()
		r.Post("/v1/webhooks/{provider}", strict.ProviderCallback)

		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/airtel",
			strings.NewReader(`{"transaction":{"id":"KP-0000ABCD","status":"SUCCESS"}}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, models.StatusPending, f.store.transactions["KP-0000ABCD"].Status)
		assert.Empty(t, f.store.entries)
	})
}

func TestParseCallback(t *testing.T) {
	cb, err := parseCallback("BANK_NBM", []byte(`{"ext_ref":"KP-1","payment_status":"COMPLETED","amount_cents":12345}`))
	require.NoError(t, err)
	assert.Equal(t, "KP-1", cb.TransactionID)
	assert.True(t, cb.Amount.Equal(decimal.RequireFromString("123.45")))

	cb, err = parseCallback("AIRTEL", []byte(`{"transaction":{"id":"KP-2","status":"SUCCESS","amount":"500"}}`))
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", cb.Status)
	assert.True(t, cb.Amount.Equal(decimal.RequireFromString("500")))

	_, err = parseCallback("TNM", []byte(`{"id":"KP-3"}`))
	assert.Error(t, err)
}
