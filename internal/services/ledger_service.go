package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kwikpesa/gateway/internal/config"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// LedgerStore is the durable record of transactions and their postings.
// Every status change is a compare-and-swap on the current status.
type LedgerStore interface {
	// CreateTransaction inserts a PENDING row. A reused idempotency key returns the stored row and created=false.
	CreateTransaction(ctx context.Context, tx *models.Transaction) (stored *models.Transaction, created bool, err error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetMerchantTransaction(ctx context.Context, id, merchantID string) (*models.Transaction, error)
	TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, reason string) (bool, error)
	// SettleTransaction flips PENDING|PROCESSING to SUCCESS and writes the postings in one database transaction.
	// It returns false, with nothing written, when the transaction was no longer settleable.
	SettleTransaction(ctx context.Context, id, providerRef, feeVersion string, entries []models.LedgerEntry) (bool, error)
	FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
	LedgerDelta(ctx context.Context) (decimal.Decimal, error)
	EntriesForTransaction(ctx context.Context, id string) ([]models.LedgerEntry, error)
}

var settleableStatuses = models.Sources(models.StatusSuccess)

const transactionColumns = `id, merchant_id, amount, currency, provider, destination, status, idempotency_key,
	COALESCE(provider_ref, ''), COALESCE(fee_version, ''), COALESCE(status_reason, ''), metadata, created_at, updated_at, completed_at`

// LedgerService is the PostgreSQL LedgerStore
type LedgerService struct {
	db       *sql.DB
	accounts config.SystemAccounts
}

func NewLedgerService(db *sql.DB, accounts config.SystemAccounts) *LedgerService {
	return &LedgerService{
		db:       db,
		accounts: accounts,
	}
}

func (s *LedgerService) CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Metadata == nil {
		tx.Metadata = models.Metadata{}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, merchant_id, amount, currency, provider, destination, status,
			idempotency_key, fee_version, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		tx.ID, tx.MerchantID, tx.Amount, tx.Currency, tx.Provider, tx.Destination, tx.Status,
		tx.IdempotencyKey, tx.FeeVersion, tx.Metadata, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if rows == 1 {
		return tx, true, nil
	}

	existing, err := s.queryTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, tx.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing.MerchantID != tx.MerchantID {
		return nil, false, NewValidationError("idempotency_key", "already used")
	}
	return existing, false, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.queryTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (s *LedgerService) GetMerchantTransaction(ctx context.Context, id, merchantID string) (*models.Transaction, error) {
	return s.queryTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND merchant_id = $2`, id, merchantID)
}

func (s *LedgerService) queryTransaction(ctx context.Context, query string, args ...any) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&tx.ID, &tx.MerchantID, &tx.Amount, &tx.Currency, &tx.Provider, &tx.Destination, &tx.Status,
		&tx.IdempotencyKey, &tx.ProviderRef, &tx.FeeVersion, &tx.StatusReason, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if !tx.Status.Valid() {
		return nil, fmt.Errorf("transaction %s has unknown status %q", tx.ID, tx.Status)
	}
	return &tx, nil
}

func (s *LedgerService) TransitionStatus(ctx context.Context, id string, from []models.TransactionStatus, to models.TransactionStatus, reason string) (bool, error) {
	now := time.Now()
	var completedAt *time.Time
	if to.IsTerminal() {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2, completed_at = COALESCE($3, completed_at), status_reason = COALESCE(NULLIF($4, ''), status_reason)
		WHERE id = $5 AND status = ANY($6)`,
		to, now, completedAt, reason, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *LedgerService) SettleTransaction(ctx context.Context, id, providerRef, feeVersion string, entries []models.LedgerEntry) (bool, error) {
	total := decimal.Zero
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return false, err
		}
		total = total.Add(e.SignedAmount())
	}
	if !total.IsZero() {
		return false, &LedgerIntegrityViolation{Delta: total}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2, completed_at = $2, provider_ref = COALESCE(NULLIF($3, ''), provider_ref), fee_version = $4
		WHERE id = $5 AND status = ANY($6)`,
		models.StatusSuccess, now, providerRef, feeVersion, id, pq.Array(statusStrings(settleableStatuses)))
	if err != nil {
		return false, fmt.Errorf("failed to flip transaction to success: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	for _, e := range entries {
		if err := s.createLedgerEntry(ctx, tx, id, e, now); err != nil {
			return false, err
		}
	}

	balances := make(map[string]decimal.Decimal)
	for _, e := range entries {
		balances[e.AccountID] = balances[e.AccountID].Add(e.SignedAmount())
	}

	// Lock accounts in consistent order to prevent deadlocks
	accountIDs := make([]string, 0, len(balances))
	for accountID := range balances {
		accountIDs = append(accountIDs, accountID)
	}
	sort.Strings(accountIDs)

	for _, accountID := range accountIDs {
		if err := s.applyBalance(ctx, tx, accountID, balances[accountID], now); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return true, nil
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, tx *sql.Tx, transactionID string, e models.LedgerEntry, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, credit, debit, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		transactionID, e.AccountID, e.Credit, e.Debit, now)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *LedgerService) applyBalance(ctx context.Context, tx *sql.Tx, accountID string, delta decimal.Decimal, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, balance, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (id) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance, version = accounts.version + 1, updated_at = EXCLUDED.updated_at`,
		accountID, s.accountKind(accountID), delta, now)
	if err != nil {
		return fmt.Errorf("failed to update balance for account %s: %w", accountID, err)
	}
	return nil
}

func (s *LedgerService) accountKind(accountID string) string {
	switch accountID {
	case s.accounts.PlatformRevenue:
		return models.AccountRevenue
	case s.accounts.ProviderExpense:
		return models.AccountExpense
	case s.accounts.Treasury:
		return models.AccountTreasury
	}
	return models.AccountMerchant
}

func (s *LedgerService) FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	now := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = $2, completed_at = $2, status_reason = $3
		WHERE status = $4 AND created_at < $5
		RETURNING id`,
		models.StatusFailed, now, reason, models.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale transactions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *LedgerService) LedgerDelta(ctx context.Context) (decimal.Decimal, error) {
	var delta decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(credit), 0) - COALESCE(SUM(debit), 0) FROM ledger_entries`).Scan(&delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return delta, nil
}

func (s *LedgerService) EntriesForTransaction(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, credit, debit, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Credit, &e.Debit, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func statusStrings(statuses []models.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// SystemAccountKinds maps each non-merchant account id to its kind, for seeding
func (s *LedgerService) SystemAccountKinds() map[string]string {
	return map[string]string{
		s.accounts.PlatformRevenue: models.AccountRevenue,
		s.accounts.ProviderExpense: models.AccountExpense,
		s.accounts.Treasury:        models.AccountTreasury,
	}
}
