package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kwikpesa/gateway/internal/models"
)

// MerchantStore loads and stores merchants and their sealed credentials
type MerchantStore interface {
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
	GetMerchantByAPIKeyHash(ctx context.Context, hash string) (*models.Merchant, error)
	CreateMerchant(ctx context.Context, m *models.Merchant) error
	SaveCredentials(ctx context.Context, merchantID string, sealedSecret []byte, apiKeyHash string) error
}

type PostgresMerchantStore struct {
	db *sql.DB
}

func NewPostgresMerchantStore(db *sql.DB) *PostgresMerchantStore {
	return &PostgresMerchantStore{db: db}
}

const merchantColumns = `id, name, COALESCE(phone, ''), COALESCE(webhook_url, ''), secret_sealed,
	COALESCE(api_key_hash, ''), is_active, created_at`

func (s *PostgresMerchantStore) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	return s.queryMerchant(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
}

func (s *PostgresMerchantStore) GetMerchantByAPIKeyHash(ctx context.Context, hash string) (*models.Merchant, error) {
	return s.queryMerchant(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE api_key_hash = $1`, hash)
}

func (s *PostgresMerchantStore) queryMerchant(ctx context.Context, query string, args ...any) (*models.Merchant, error) {
	var m models.Merchant
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&m.ID, &m.Name, &m.Phone, &m.WebhookURL, &m.SecretSealed, &m.APIKeyHash, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	return &m, nil
}

func (s *PostgresMerchantStore) CreateMerchant(ctx context.Context, m *models.Merchant) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, phone, webhook_url, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, webhook_url = EXCLUDED.webhook_url`,
		m.ID, m.Name, m.Phone, m.WebhookURL, m.IsActive, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save merchant: %w", err)
	}
	return nil
}

func (s *PostgresMerchantStore) SaveCredentials(ctx context.Context, merchantID string, sealedSecret []byte, apiKeyHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE merchants SET secret_sealed = $1, api_key_hash = $2 WHERE id = $3`,
		sealedSecret, apiKeyHash, merchantID)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMerchantNotFound
	}
	return nil
}
