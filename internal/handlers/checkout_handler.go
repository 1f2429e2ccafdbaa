package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/middleware"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/services"
	"github.com/shopspring/decimal"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	service *services.CheckoutService
}

func NewCheckoutHandler(service *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type checkoutRequest struct {
	MerchantID    string          `json:"merchant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Provider      string          `json:"provider"`
	Phone         string          `json:"phone,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	Metadata      models.Metadata `json:"metadata,omitempty"`
}

type CheckoutResponse struct {
	Status   string `json:"status"`
	TxRef    string `json:"tx_ref"`
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

type TransactionResponse struct {
	TxRef         string          `json:"tx_ref"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider"`
	Destination   string          `json:"destination"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Checkout accepts a payment request and answers before the provider is contacted
// @Summary Create checkout
// @Tags Checkout
// @Accept json
// @Produce json
// @Param request body object{merchant_id=string,amount=number,provider=string,phone=string,account_number=string} true "Checkout request"
// @Success 202 {object} CheckoutResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /v1/checkout [post]
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	merchant, err := middleware.RequireMerchant(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req checkoutRequest
	if err := decodeStrict(w, r, &req); err != nil {
		logging.LOGGER.Warningf("[CHECKOUT] decode error: %v", err)
		message := "Invalid request body"
		if errors.Is(err, errMultipleObjects) {
			message = "Request body must only contain a single JSON object"
		}
		services.SendErrorResponse(w, message, http.StatusBadRequest, nil)
		return
	}

	if req.MerchantID != "" && req.MerchantID != merchant.ID {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			services.NewValidationError("merchant_id", "does not match the authenticated merchant"))
		return
	}

	tx, err := h.service.Checkout(r.Context(), services.InitiateRequest{
		MerchantID:     merchant.ID,
		Amount:         req.Amount,
		Provider:       req.Provider,
		Phone:          req.Phone,
		AccountNumber:  req.AccountNumber,
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeServiceError(w, "[CHECKOUT]", err)
		return
	}

	status := "processing"
	if tx.Status.IsTerminal() {
		status = strings.ToLower(string(tx.Status))
	}

	services.SendJSON(w, http.StatusAccepted, CheckoutResponse{
		Status:   status,
		TxRef:    tx.ID,
		Provider: tx.Provider,
		Message:  "Payment request received and is being processed",
	})
}

// GetTransaction returns the caller's own transaction
// @Summary Transaction status
// @Tags Checkout
// @Produce json
// @Param txRef path string true "Transaction reference"
// @Success 200 {object} TransactionResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /v1/transactions/{txRef} [get]
func (h *CheckoutHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	merchant, err := middleware.RequireMerchant(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	tx, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "txRef"), merchant.ID)
	if err != nil {
		writeServiceError(w, "[CHECKOUT]", err)
		return
	}

	services.SendJSON(w, http.StatusOK, TransactionResponse{
		TxRef:         tx.ID,
		Status:        string(tx.Status),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Provider:      tx.Provider,
		Destination:   tx.Destination,
		ProviderRef:   tx.ProviderRef,
		FailureReason: tx.FailureReason(),
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
	})
}

func writeServiceError(w http.ResponseWriter, tag string, err error) {
	code := services.HTTPStatus(err)
	switch {
	case code >= http.StatusInternalServerError:
		logging.LOGGER.Errorf("%s %v", tag, err)
		message := "Internal server error"
		if code == http.StatusServiceUnavailable {
			message = "Service temporarily unavailable"
		}
		services.SendErrorResponse(w, message, code, nil)
	case code == http.StatusBadRequest:
		services.SendErrorResponse(w, "Validation failed", code, err)
	default:
		services.SendErrorResponse(w, err.Error(), code, nil)
	}
}
