package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kwikpesa_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_provider_attempts_total",
		Help: "Provider push attempts by outcome",
	}, []string{"provider", "outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_transaction_transitions_total",
		Help: "Transaction status changes by target status and source",
	}, []string{"status", "source"})

	SettledAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_settled_amount_total",
		Help: "Gross amount settled, by provider",
	}, []string{"provider"})

	WebhookCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_webhook_callbacks_total",
		Help: "Provider callbacks by outcome",
	}, []string{"provider", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_notifications_total",
		Help: "Post-settlement notifications by channel and outcome",
	}, []string{"channel", "outcome"})

	WorkerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_worker_jobs_total",
		Help: "Background jobs by kind and outcome",
	}, []string{"kind", "outcome"})

	WorkerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kwikpesa_worker_queue_depth",
		Help: "Jobs waiting in the worker queue",
	}, []string{"pool"})

	LedgerDelta = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kwikpesa_ledger_delta",
		Help: "Sum of credits minus sum of debits across all postings; must be zero",
	})

	ConfirmedUnsettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kwikpesa_confirmed_unsettled_total",
		Help: "Payments the provider confirmed but the ledger failed to record; reconcile by hand",
	}, []string{"provider"})

	StaleFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kwikpesa_stale_transactions_failed_total",
		Help: "PENDING transactions failed by the reconciliation sweep",
	})
)
