package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/security"
)

// Options shared by every HTTP gateway
type Options struct {
	BaseURL        string
	CallbackSecret string
	AllowUnsigned  bool // accept callbacks when CallbackSecret is empty
	Client         *http.Client
	Timeout        time.Duration
}

type providerResponse struct {
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref"`
	Message     string `json:"message"`
}

type httpGateway struct {
	name           string
	baseURL        string
	callbackSecret string
	allowUnsigned  bool
	client         *http.Client
}

func newHTTPGateway(name string, opts Options) httpGateway {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return httpGateway{
		name:           name,
		baseURL:        opts.BaseURL,
		callbackSecret: opts.CallbackSecret,
		allowUnsigned:  opts.AllowUnsigned,
		client:         client,
	}
}

func (g httpGateway) Name() string { return g.name }

// VerifyCallback checks the HMAC of the raw body. Without a secret it rejects
// everything unless unsigned callbacks were explicitly allowed.
func (g httpGateway) VerifyCallback(payload []byte, signature string) bool {
	if g.callbackSecret == "" {
		return g.allowUnsigned
	}
	return security.VerifyRaw(g.callbackSecret, signature, payload)
}

func (g httpGateway) postJSON(ctx context.Context, path string, body any) (Ack, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to encode %s request: %w", g.name, err)
	}
	return g.post(ctx, path, "application/json", data)
}

func (g httpGateway) post(ctx context.Context, path, contentType string, data []byte) (Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Ack{}, &TransportError{Provider: g.name, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	return g.do(req)
}

func (g httpGateway) get(ctx context.Context, path string) (Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return Ack{}, &TransportError{Provider: g.name, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	return g.do(req)
}

func (g httpGateway) do(req *http.Request) (Ack, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		logging.LOGGER.Errorf("[PROVIDER] %s connection failed: %v", g.name, err)
		return Ack{}, &TransportError{Provider: g.name, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Ack{}, &TransportError{Provider: g.name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.LOGGER.Errorf("[PROVIDER] %s rejected request: HTTP %d", g.name, resp.StatusCode)
		return Ack{}, &TransportError{Provider: g.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(raw))}
	}

	var parsed providerResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Ack{}, &TransportError{Provider: g.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
		}
	}

	return Ack{
		Status:      ParseAckStatus(parsed.Status),
		ProviderRef: parsed.ProviderRef,
		Message:     parsed.Message,
	}, nil
}
