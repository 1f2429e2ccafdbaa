package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SettlementConfig holds the tunables of the settlement pipeline. Loaded once at boot.
type SettlementConfig struct {
	Currency        string
	GatewayBaseURL  string
	ProviderTimeout time.Duration
	CallbackSecrets map[string]string

	// AllowUnsignedCallbacks accepts callbacks from providers without a configured secret
	AllowUnsignedCallbacks bool

	RetryAttempts  int
	RetryDelay     time.Duration // attempt n waits n * RetryDelay
	NotifyAttempts int
	NotifyBackoff  time.Duration // doubles after every failed delivery

	StaleTimeout  time.Duration
	SweepInterval time.Duration

	Workers   int
	QueueSize int

	// Notification pool, separate from the settlement pool
	NotifyWorkers   int
	NotifyQueueSize int

	CheckoutLimit   int
	RateLimitWindow time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	SMSEndpoint  string

	FeeSchedulePath string
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		Currency:        getEnv("SETTLEMENT_CURRENCY", "MWK"),
		GatewayBaseURL:  strings.TrimRight(getEnv("GATEWAY_BASE_URL", "http://localhost:9000"), "/"),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		CallbackSecrets: map[string]string{
			"AIRTEL": getEnv("AIRTEL_CALLBACK_SECRET", ""),
			"TNM":    getEnv("TNM_CALLBACK_SECRET", ""),
			"BANK":   getEnv("BANK_CALLBACK_SECRET", ""),
		},

		AllowUnsignedCallbacks: getEnvAsBool("ALLOW_UNSIGNED_CALLBACKS", false),

		RetryAttempts:   getEnvAsInt("SETTLE_RETRY_ATTEMPTS", 3),
		RetryDelay:      getEnvAsDuration("SETTLE_RETRY_DELAY", 30*time.Second),
		NotifyAttempts:  getEnvAsInt("NOTIFY_RETRY_ATTEMPTS", 3),
		NotifyBackoff:   getEnvAsDuration("NOTIFY_RETRY_BACKOFF", 30*time.Second),
		StaleTimeout:    getEnvAsDuration("RECONCILE_STALE_TIMEOUT", 15*time.Minute),
		SweepInterval:   getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		Workers:         getEnvAsInt("WORKER_COUNT", 8),
		QueueSize:       getEnvAsInt("WORKER_QUEUE_SIZE", 1024),
		NotifyWorkers:   getEnvAsInt("NOTIFY_WORKER_COUNT", 4),
		NotifyQueueSize: getEnvAsInt("NOTIFY_QUEUE_SIZE", 1024),
		CheckoutLimit:   getEnvAsInt("CHECKOUT_RATE_LIMIT", 120),
		RateLimitWindow: getEnvAsDuration("CHECKOUT_RATE_WINDOW", time.Minute),
		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:      getEnv("KAFKA_SETTLEMENT_TOPIC", "payment.settled"),
		SMSEndpoint:     getEnv("SMS_ENDPOINT", ""),
		FeeSchedulePath: getEnv("FEE_SCHEDULE_PATH", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
