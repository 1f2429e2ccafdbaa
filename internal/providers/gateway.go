package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AckStatus is a provider's answer to a push request
type AckStatus string

const (
	AckSuccess AckStatus = "SUCCESS"
	AckPending AckStatus = "PENDING"
	AckError   AckStatus = "ERROR"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Ack is the provider's synchronous reply to Push
type Ack struct {
	Status      AckStatus `json:"status"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Gateway is the capability every payment network adapter exposes
type Gateway interface {
	Name() string
	Push(ctx context.Context, destination string, amount decimal.Decimal, ref string) (Ack, error)
	VerifyCallback(payload []byte, signature string) bool
	Status(ctx context.Context, ref string) (AckStatus, error)
}

// TransportError means the provider could not be reached or refused the request
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway returned HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway unreachable: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseAckStatus maps the status vocabulary used by the networks onto AckStatus
func ParseAckStatus(raw string) AckStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED", "TS":
		return AckSuccess
	case "", "PENDING", "PROMPT_SENT", "ACCEPTED", "PROCESSING", "TIP":
		return AckPending
	default:
		return AckError
	}
}

// NormalizeMSISDN returns the international 265XXXXXXXXX form of a Malawi number
func NormalizeMSISDN(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "265") && len(digits) > 9 {
		return digits
	}
	return "265" + strings.TrimPrefix(digits, "0")
}
