package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kwikpesa/gateway/internal/retry"
	"github.com/kwikpesa/gateway/internal/security"
)

const (
	SignatureHeader = "X-KwikPesa-Signature"
	EventHeader     = "X-KwikPesa-Event"
)

// WebhookPayload is the body POSTed to a merchant when a payment settles
type WebhookPayload struct {
	TxRef       string    `json:"tx_ref"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	NetAmount   string    `json:"net_amount"`
	Fee         string    `json:"fee"`
	Currency    string    `json:"currency"`
	Provider    string    `json:"provider"`
	Phone       string    `json:"phone"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	SettledAt   time.Time `json:"settled_at"`
}

// WebhookSender delivers signed JSON to merchant endpoints
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{client: client}
}

// Send posts payload to url with an HMAC of the canonical body. 4xx answers other than
// 408 and 429 are not retried.
func (s *WebhookSender) Send(ctx context.Context, url, secret, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Stop(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Stop(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "KwikPesa-Webhook/1.0")
	req.Header.Set(EventHeader, event)

	if secret != "" {
		sig, err := security.Sign(secret, body)
		if err != nil {
			return retry.Stop(err)
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	err = fmt.Errorf("merchant server returned error: %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Stop(err)
	}
	return err
}
