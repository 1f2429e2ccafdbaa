package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/services"
	"github.com/shopspring/decimal"
)

const CallbackSignatureHeader = "X-Signature"

type WebhookHandler struct {
	service  *services.WebhookService
	registry *providers.Registry
}

func NewWebhookHandler(service *services.WebhookService, registry *providers.Registry) *WebhookHandler {
	return &WebhookHandler{service: service, registry: registry}
}

// mobileCallback is the Airtel and TNM callback shape
type mobileCallback struct {
	Transaction struct {
		ID          string           `json:"id"`
		Status      string           `json:"status"`
		Amount      *decimal.Decimal `json:"amount,omitempty"`
		ProviderRef string           `json:"provider_ref,omitempty"`
	} `json:"transaction"`
}

type bankCallback struct {
	ExtRef        string `json:"ext_ref"`
	PaymentStatus string `json:"payment_status"`
	AmountCents   *int64 `json:"amount_cents,omitempty"`
	BankRef       string `json:"bank_ref,omitempty"`
}

type WebhookResponse struct {
	Status services.Outcome `json:"status"`
}

// ProviderCallback applies an asynchronous provider report. Every idempotent outcome is a 200.
// @Summary Provider callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "AIRTEL, TNM or BANK"
// @Success 200 {object} WebhookResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /v1/webhooks/{provider} [post]
func (h *WebhookHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToUpper(chi.URLParam(r, "provider"))

	gateway, err := h.registry.Resolve(provider)
	if err != nil {
		services.SendErrorResponse(w, "Unknown provider", http.StatusNotFound, nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !gateway.VerifyCallback(body, r.Header.Get(CallbackSignatureHeader)) {
		logging.LOGGER.Warningf("[WEBHOOK] %s callback with bad signature", provider)
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cb, err := parseCallback(provider, body)
	if err != nil {
		logging.LOGGER.Warningf("[WEBHOOK] %s callback decode error: %v", provider, err)
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	logging.LOGGER.Infof("[WEBHOOK] Received %s callback for TX: %s - Status: %s", provider, cb.TransactionID, cb.Status)

	outcome, err := h.service.OnCallback(r.Context(), gateway.Name(), cb)
	if err != nil {
		writeServiceError(w, "[WEBHOOK]", err)
		return
	}

	services.SendJSON(w, http.StatusOK, WebhookResponse{Status: outcome})
}

func parseCallback(provider string, body []byte) (services.Callback, error) {
	if strings.HasPrefix(provider, "BANK") {
		var payload bankCallback
		if err := json.Unmarshal(body, &payload); err != nil {
			return services.Callback{}, err
		}
		cb := services.Callback{
			TransactionID: payload.ExtRef,
			Status:        payload.PaymentStatus,
			ProviderRef:   payload.BankRef,
		}
		if payload.AmountCents != nil {
			amount := decimal.New(*payload.AmountCents, -2)
			cb.Amount = &amount
		}
		return cb, nil
	}

	var payload mobileCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		return services.Callback{}, err
	}
	if payload.Transaction.ID == "" && payload.Transaction.Status == "" {
		return services.Callback{}, errors.New("missing transaction object")
	}
	return services.Callback{
		TransactionID: payload.Transaction.ID,
		Status:        payload.Transaction.Status,
		Amount:        payload.Transaction.Amount,
		ProviderRef:   payload.Transaction.ProviderRef,
	}, nil
}
