package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kwikpesa/gateway/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestStruct struct {
	Name  string `validate:"required,min=2"`
	Email string `validate:"required,email"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&TestStruct{Name: "Chisomo", Email: "chisomo@example.mw"})
		assert.NoError(t, err)
	})

	t.Run("invalid email format", func(t *testing.T) {
		err := vh.ValidateStruct(&TestStruct{Name: "Chisomo", Email: "invalid-email"})

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "Email", validationErr.Field)
		assert.Contains(t, validationErr.Reason, "email")
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with field details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, NewValidationError("phone", "invalid phone length"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "invalid phone length", response.Details["phone"])
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: http.StatusOK},
		{err: NewValidationError("amount", "bad"), want: http.StatusBadRequest},
		{err: fmt.Errorf("wrapped: %w", &AuthenticationError{Reason: "x"}), want: http.StatusUnauthorized},
		{err: ErrTransactionNotFound, want: http.StatusNotFound},
		{err: ErrRateLimited, want: http.StatusTooManyRequests},
		{err: worker.ErrQueueFull, want: http.StatusServiceUnavailable},
		{err: &LedgerIntegrityViolation{Delta: decimal.NewFromInt(1)}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}
