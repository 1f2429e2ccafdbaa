package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/kwikpesa/gateway/internal/hsm"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/security"
)

// CredentialService issues merchant credentials and authenticates requests with them
type CredentialService struct {
	merchants MerchantStore
	vault     hsm.HSMInterface
	audit     *hsm.AuditLogger
}

func NewCredentialService(merchants MerchantStore, vault hsm.HSMInterface, audit *hsm.AuditLogger) *CredentialService {
	return &CredentialService{
		merchants: merchants,
		vault:     vault,
		audit:     audit,
	}
}

// Issue generates a signing secret and API key for the merchant. The plaintext is returned once and never stored.
func (s *CredentialService) Issue(ctx context.Context, merchantID string) (*models.MerchantCredentials, error) {
	if _, err := s.merchants.GetMerchant(ctx, merchantID); err != nil {
		return nil, err
	}

	secret, err := security.GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	apiKey, apiKeyHash, err := security.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	sealed, err := s.vault.EncryptData(merchantID, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to seal merchant secret: %w", err)
	}

	if err := s.merchants.SaveCredentials(ctx, merchantID, sealed, apiKeyHash); err != nil {
		return nil, err
	}

	s.audit.LogOperation("", merchantID, "CREDENTIALS_ISSUED", "secret and api key rotated")
	return &models.MerchantCredentials{
		MerchantID: merchantID,
		SecretKey:  secret,
		APIKey:     apiKey,
	}, nil
}

// SigningSecret opens the merchant's sealed secret
func (s *CredentialService) SigningSecret(m *models.Merchant) (string, error) {
	if len(m.SecretSealed) == 0 {
		return "", errors.New("merchant has no signing secret")
	}
	secret, err := s.vault.DecryptData(m.ID, m.SecretSealed)
	if err != nil {
		return "", fmt.Errorf("failed to open merchant secret: %w", err)
	}
	return string(secret), nil
}

func (s *CredentialService) AuthenticateAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	if apiKey == "" {
		return nil, &AuthenticationError{Reason: "missing api key"}
	}

	m, err := s.merchants.GetMerchantByAPIKeyHash(ctx, security.HashAPIKey(apiKey))
	if errors.Is(err, ErrMerchantNotFound) {
		return nil, &AuthenticationError{Reason: "unknown api key"}
	}
	if err != nil {
		return nil, err
	}
	return activeMerchant(m)
}

// AuthenticateSignature verifies an HMAC over the canonical JSON body with the merchant's secret
func (s *CredentialService) AuthenticateSignature(ctx context.Context, merchantID, signature string, body []byte) (*models.Merchant, error) {
	if merchantID == "" || signature == "" {
		return nil, &AuthenticationError{Reason: "missing merchant signature"}
	}

	m, err := s.merchants.GetMerchant(ctx, merchantID)
	if errors.Is(err, ErrMerchantNotFound) {
		return nil, &AuthenticationError{Reason: "unknown merchant"}
	}
	if err != nil {
		return nil, err
	}

	secret, err := s.SigningSecret(m)
	if err != nil {
		logging.LOGGER.Errorf("[AUTH] %s: %v", merchantID, err)
		return nil, &AuthenticationError{Reason: "merchant secret unavailable"}
	}

	if err := security.Verify(secret, signature, body); err != nil {
		logging.LOGGER.Warningf("[AUTH] signature mismatch for merchant %s", merchantID)
		return nil, &AuthenticationError{Reason: "signature mismatch"}
	}
	return activeMerchant(m)
}

func activeMerchant(m *models.Merchant) (*models.Merchant, error) {
	if !m.IsActive {
		return nil, &AuthenticationError{Reason: "merchant inactive"}
	}
	return m, nil
}
