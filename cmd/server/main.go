package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/database"
	"github.com/kwikpesa/gateway/internal/handlers"
	"github.com/kwikpesa/gateway/internal/hsm"
	"github.com/kwikpesa/gateway/internal/logging"
	mW "github.com/kwikpesa/gateway/internal/middleware"
	"github.com/kwikpesa/gateway/internal/notify"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/retry"
	"github.com/kwikpesa/gateway/internal/services"
	"github.com/kwikpesa/gateway/internal/tracing"
	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

func main() {
	config.InitViper()
	settlement := config.LoadSettlementConfig()
	port := viper.GetString("port")

	fees, err := config.LoadFeeSchedule(settlement.FeeSchedulePath)
	if err != nil {
		logging.LOGGER.Fatalf("Failed to load fee schedule: %v", err)
	}
	logging.LOGGER.Infof("Fee schedule %s loaded", fees.Version())

	tracer, spanReporter, err := tracing.NewTracer(tracing.Config{
		ServiceName: "kwikpesa-gateway",
		HostPort:    "localhost:" + port,
		Endpoint:    viper.GetString("zipkin.endpoint"),
		SampleRate:  viper.GetFloat64("zipkin.sample_rate"),
	})
	if err != nil {
		logging.LOGGER.Fatalf("Error initializing zipkin! %v", err)
	}
	defer spanReporter.Close()

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	ledger := services.NewLedgerService(db, fees.Accounts())
	if err := database.Migrate(context.Background(), db, ledger.SystemAccountKinds()); err != nil {
		logging.LOGGER.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	audit := hsm.NewAuditLogger()
	vault, err := hsm.InitHSM(hsm.Config{
		MasterKey:   viper.GetString("hsm.master_key"),
		Salt:        []byte(viper.GetString("hsm.salt")),
		AuditLogger: audit,
	})
	if err != nil {
		logging.LOGGER.Fatalf("Failed to initialize HSM: %v", err)
	}

	pool := worker.NewPool("settlement", settlement.Workers, settlement.QueueSize)
	notifyPool := worker.NewPool("notify", settlement.NotifyWorkers, settlement.NotifyQueueSize)

	providerClient, err := tracing.Client(tracer, settlement.ProviderTimeout)
	if err != nil {
		logging.LOGGER.Fatalf("Failed to build provider client: %v", err)
	}
	if settlement.AllowUnsignedCallbacks {
		logging.LOGGER.Warning("Unsigned provider callbacks are accepted for providers without a callback secret")
	}
	registry := providers.NewDefaultRegistry(settlement.Currency, providers.Options{
		BaseURL:       settlement.GatewayBaseURL,
		Client:        providerClient,
		AllowUnsigned: settlement.AllowUnsignedCallbacks,
	}, settlement.CallbackSecrets)

	merchants := services.NewPostgresMerchantStore(db)
	credentials := services.NewCredentialService(merchants, vault, audit)

	// A nil publisher must not become a non-nil interface
	var events notify.EventPublisher
	if publisher := notify.NewKafkaPublisher(settlement.KafkaBrokers, settlement.KafkaTopic, tracer); publisher != nil {
		events = publisher
		defer publisher.Close()
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		Merchants: merchants,
		Secrets:   credentials,
		Webhooks:  notify.NewWebhookSender(nil),
		SMS:       notify.NewSMSSender(settlement.SMSEndpoint, nil),
		Events:    events,
		Jobs:      notifyPool,
		Policy:    retry.Exponential(settlement.NotifyAttempts, settlement.NotifyBackoff),
	})

	settler := services.NewSettler(ledger, services.NewCommissionCalculator(fees), dispatcher, audit)
	checkoutService := services.NewCheckoutService(services.CheckoutDeps{
		Store:    ledger,
		Router:   services.NewRouterService(),
		Registry: registry,
		Settler:  settler,
		Jobs:     pool,
		Limiter:  services.NewRateLimiter(redisClient, settlement.CheckoutLimit, settlement.RateLimitWindow),
		Policy:   retry.Linear(settlement.RetryAttempts, settlement.RetryDelay),
		Currency: settlement.Currency,
	})
	webhookService := services.NewWebhookService(ledger, settler)
	reconciler := services.NewReconciliationService(ledger, settlement.StaleTimeout, settlement.SweepInterval, audit)
	bankService := services.NewBankService()

	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	webhookHandler := handlers.NewWebhookHandler(webhookService, registry)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		reconciler.Start(sweepCtx)
	}()

	// Setup router
	r := chi.NewRouter()

	r.Use(tracing.Middleware(tracer))
	r.Use(mW.SecurityHeaders)
	r.Use(mW.Metrics)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", mW.APIKeyHeader, mW.SignatureHeader, handlers.IdempotencyKeyHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status, "fee_version": fees.Version()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/banks", bankService.GetAllBanks)
		r.Post("/webhooks/{provider}", webhookHandler.ProviderCallback)

		r.Group(func(r chi.Router) {
			r.Use(mW.MerchantAuth(credentials))

			r.Post("/checkout", checkoutHandler.Checkout)
			r.Get("/transactions/{txRef}", checkoutHandler.GetTransaction)
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logging.LOGGER.Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.LOGGER.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.LOGGER.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.LOGGER.Errorf("Server forced to shutdown: %v", err)
	}

	stopSweep()
	<-sweepDone

	// Settlement jobs can still queue notifications, so the notify pool drains last
	if err := pool.Shutdown(ctx); err != nil {
		logging.LOGGER.Errorf("Settlement pool did not drain: %v", err)
	}
	if err := notifyPool.Shutdown(ctx); err != nil {
		logging.LOGGER.Errorf("Notify pool did not drain: %v", err)
	}

	logging.LOGGER.Info("Server stopped")
}
