package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/services"
)

const (
	APIKeyHeader    = "X-API-Key"
	SignatureHeader = "X-Signature"

	maxBodyBytes = 1_048_576
)

type merchantKey struct{}

// Authenticator resolves the calling merchant
type Authenticator interface {
	AuthenticateAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error)
	AuthenticateSignature(ctx context.Context, merchantID, signature string, body []byte) (*models.Merchant, error)
}

// MerchantAuth accepts either an API key or an HMAC signature over the JSON body,
// which must then carry merchant_id. The body is restored for the next handler.
func MerchantAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			merchant, err := authenticate(auth, w, r)
			if err != nil {
				logging.LOGGER.Warningf("[AUTH] %s %s rejected: %v", r.Method, r.URL.Path, err)
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), merchant)))
		})
	}
}

func authenticate(auth Authenticator, w http.ResponseWriter, r *http.Request) (*models.Merchant, error) {
	if apiKey := r.Header.Get(APIKeyHeader); apiKey != "" {
		return auth.AuthenticateAPIKey(r.Context(), apiKey)
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return nil, &services.AuthenticationError{Reason: "missing credentials"}
	}
	if r.Body == nil {
		return nil, &services.AuthenticationError{Reason: "signed request without body"}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &services.AuthenticationError{Reason: "unreadable body"}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var envelope struct {
		MerchantID string `json:"merchant_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.MerchantID == "" {
		return nil, &services.AuthenticationError{Reason: "merchant_id is required"}
	}

	return auth.AuthenticateSignature(r.Context(), envelope.MerchantID, signature, body)
}

// MerchantFromContext returns the merchant set by MerchantAuth
func MerchantFromContext(ctx context.Context) (*models.Merchant, bool) {
	m, ok := ctx.Value(merchantKey{}).(*models.Merchant)
	return m, ok && m != nil
}

func WithMerchant(ctx context.Context, m *models.Merchant) context.Context {
	return context.WithValue(ctx, merchantKey{}, m)
}

// RequireMerchant returns the authenticated merchant or an *AuthenticationError
func RequireMerchant(ctx context.Context) (*models.Merchant, error) {
	m, ok := MerchantFromContext(ctx)
	if !ok {
		return nil, &services.AuthenticationError{Reason: "no authenticated merchant"}
	}
	return m, nil
}
