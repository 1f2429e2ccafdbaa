package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEvent is published once a transaction has settled
type SettlementEvent struct {
	TransactionID string          `json:"tx_ref"`
	MerchantID    string          `json:"merchant_id"`
	Provider      string          `json:"provider"`
	Destination   string          `json:"destination"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	MerchantNet   decimal.Decimal `json:"merchant_net"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProviderCost  decimal.Decimal `json:"provider_cost"`
	FeeVersion    string          `json:"fee_version"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	Status        string          `json:"status"`
	SettledAt     time.Time       `json:"settled_at"`
}
