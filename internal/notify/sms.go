package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kwikpesa/gateway/internal/logging"
)

// SMSSender sends customer receipts through an HTTP SMS gateway.
// Without an endpoint the message is only logged.
type SMSSender struct {
	endpoint string
	client   *http.Client
}

func NewSMSSender(endpoint string, client *http.Client) *SMSSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSSender{endpoint: endpoint, client: client}
}

func (s *SMSSender) Send(ctx context.Context, phone, message string) error {
	if s.endpoint == "" {
		logging.LOGGER.Infof("[SMS] To: %s | Message: %s", phone, message)
		return nil
	}

	body, err := json.Marshal(map[string]string{"to": phone, "message": message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}
	return nil
}

// ReceiptMessage is the customer-facing text for a settled payment
func ReceiptMessage(amount, currency, ref string) string {
	return fmt.Sprintf("KwikPesa: Paid %s %s. Ref: %s", amount, currency, ref)
}
