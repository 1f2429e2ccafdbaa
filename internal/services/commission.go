package services

import (
	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/shopspring/decimal"
)

// Split is the commission breakdown of one gross amount
type Split struct {
	Gross         decimal.Decimal `json:"gross"`
	MerchantNet   decimal.Decimal `json:"merchant_net"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	ProviderCost  decimal.Decimal `json:"provider_cost"`
	TreasuryDebit decimal.Decimal `json:"treasury_debit"`
	Provider      string          `json:"provider"`
	FeeVersion    string          `json:"fee_version"`
}

// CommissionCalculator splits gross amounts using a fee schedule
type CommissionCalculator struct {
	fees *config.FeeSchedule
}

func NewCommissionCalculator(fees *config.FeeSchedule) *CommissionCalculator {
	return &CommissionCalculator{fees: fees}
}

// Split rounds fee and cost half-up to 2dp independently; net absorbs the fee remainder
func (c *CommissionCalculator) Split(gross decimal.Decimal, provider string) (Split, error) {
	if gross.IsNegative() {
		return Split{}, NewValidationError("amount", "amount must not be negative")
	}

	fee := gross.Mul(c.fees.MerchantFeeRate()).Round(2)
	cost := gross.Mul(c.fees.ProviderRate(provider)).Round(2)

	return Split{
		Gross:         gross,
		MerchantNet:   gross.Sub(fee),
		PlatformFee:   fee,
		ProviderCost:  cost,
		TreasuryDebit: gross.Sub(cost),
		Provider:      provider,
		FeeVersion:    c.fees.Version(),
	}, nil
}

func (c *CommissionCalculator) Accounts() config.SystemAccounts {
	return c.fees.Accounts()
}

// Postings returns the balanced entries for the split. Zero legs are omitted.
func (s Split) Postings(transactionID, merchantID string, accounts config.SystemAccounts) []models.LedgerEntry {
	legs := []models.LedgerEntry{
		{AccountID: merchantID, Credit: s.MerchantNet},
		{AccountID: accounts.PlatformRevenue, Credit: s.PlatformFee},
		{AccountID: accounts.ProviderExpense, Debit: s.ProviderCost},
		{AccountID: accounts.Treasury, Debit: s.TreasuryDebit},
	}

	entries := make([]models.LedgerEntry, 0, len(legs))
	for _, leg := range legs {
		if leg.Credit.IsZero() && leg.Debit.IsZero() {
			continue
		}
		leg.TransactionID = transactionID
		entries = append(entries, leg)
	}
	return entries
}
