package models

import "time"

// Merchant is a business receiving payments through the gateway
type Merchant struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Phone        string    `json:"phone,omitempty" db:"phone"`
	WebhookURL   string    `json:"webhook_url,omitempty" db:"webhook_url"`
	SecretSealed []byte    `json:"-" db:"secret_sealed"`
	APIKeyHash   string    `json:"-" db:"api_key_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// MerchantCredentials are returned in plaintext exactly once, when issued
type MerchantCredentials struct {
	MerchantID string `json:"merchant_id"`
	SecretKey  string `json:"secret_key"`
	APIKey     string `json:"api_key"`
}
