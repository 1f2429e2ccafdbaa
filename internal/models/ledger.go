package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Account kinds
const (
	AccountMerchant = "MERCHANT"
	AccountRevenue  = "REVENUE"
	AccountExpense  = "EXPENSE"
	AccountTreasury = "TREASURY"
)

// LedgerEntry is one immutable posting. Exactly one of Credit or Debit is non-zero.
type LedgerEntry struct {
	ID            int64           `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	Credit        decimal.Decimal `json:"credit" db:"credit"`
	Debit         decimal.Decimal `json:"debit" db:"debit"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Validate checks the single-sided posting rule
func (e LedgerEntry) Validate() error {
	if e.Credit.IsNegative() || e.Debit.IsNegative() {
		return errors.New("ledger entry amounts must not be negative")
	}
	if e.Credit.IsZero() == e.Debit.IsZero() {
		return errors.New("ledger entry must carry exactly one of credit or debit")
	}
	if e.AccountID == "" {
		return errors.New("ledger entry requires an account")
	}
	return nil
}

// SignedAmount returns credit minus debit
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	return e.Credit.Sub(e.Debit)
}

type Account struct {
	ID        string          `json:"id" db:"id"`
	Kind      string          `json:"kind" db:"kind"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
