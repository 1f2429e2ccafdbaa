package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/kwikpesa/gateway/internal/metrics"
	"github.com/kwikpesa/gateway/internal/models"
	"github.com/kwikpesa/gateway/internal/providers"
	"github.com/kwikpesa/gateway/internal/retry"
	"github.com/kwikpesa/gateway/internal/worker"
)

const (
	ChannelWebhook = "merchant_webhook"
	ChannelSMS     = "customer_sms"
	ChannelEvent   = "settlement_event"
)

type MerchantLookup interface {
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
}

// SecretSource unseals the merchant's webhook signing secret
type SecretSource interface {
	SigningSecret(m *models.Merchant) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.SettlementEvent) error
}

type Config struct {
	Merchants MerchantLookup
	Secrets   SecretSource
	Webhooks  *WebhookSender
	SMS       *SMSSender
	Events    EventPublisher
	Jobs      worker.Scheduler
	Policy    retry.Policy
}

// Dispatcher fans a settled transaction out to the merchant, the customer and the event
// stream. Each delivery attempt runs as its own background job and never touches the ledger.
type Dispatcher struct {
	merchants MerchantLookup
	secrets   SecretSource
	webhooks  *WebhookSender
	sms       *SMSSender
	events    EventPublisher
	jobs      worker.Scheduler
	policy    retry.Policy
}

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		merchants: cfg.Merchants,
		secrets:   cfg.Secrets,
		webhooks:  cfg.Webhooks,
		sms:       cfg.SMS,
		events:    cfg.Events,
		jobs:      cfg.Jobs,
		policy:    cfg.Policy,
	}
}

// NotifySettled schedules every configured delivery for event
func (d *Dispatcher) NotifySettled(_ context.Context, event models.SettlementEvent) {
	if d.webhooks != nil && d.merchants != nil {
		d.submit(ChannelWebhook, event, d.deliverWebhook)
	}
	if d.sms != nil && event.Destination != "" && !strings.HasPrefix(event.Provider, providers.BankPrefix) {
		d.submit(ChannelSMS, event, d.deliverSMS)
	}
	if d.events != nil {
		d.submit(ChannelEvent, event, d.events.Publish)
	}
}

func (d *Dispatcher) submit(channel string, event models.SettlementEvent, deliver func(context.Context, models.SettlementEvent) error) {
	err := d.jobs.Submit(d.job(channel, event, deliver, 1))
	if err != nil {
		d.dropped(channel, event, err)
	}
}

func (d *Dispatcher) job(channel string, event models.SettlementEvent, deliver func(context.Context, models.SettlementEvent) error, attempt int) worker.Job {
	return worker.Job{
		Kind: channel,
		Ref:  event.TransactionID,
		Run: func(ctx context.Context) error {
			return d.run(ctx, channel, event, deliver, attempt)
		},
		Rejected: func(err error) {
			d.dropped(channel, event, err)
		},
	}
}

func (d *Dispatcher) dropped(channel string, event models.SettlementEvent, err error) {
	metrics.Notifications.WithLabelValues(channel, "dropped").Inc()
	logging.LOGGER.Warningf("[NOTIFY] %s for %s dropped: %v", channel, event.TransactionID, err)
}

// run makes one delivery attempt and schedules the next one when the policy allows it
func (d *Dispatcher) run(ctx context.Context, channel string, event models.SettlementEvent, deliver func(context.Context, models.SettlementEvent) error, attempt int) error {
	err := deliver(ctx, event)
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues(channel, "delivered").Inc()
		return nil
	case errors.Is(err, errSkipped):
		metrics.Notifications.WithLabelValues(channel, "skipped").Inc()
		return nil
	}

	logging.LOGGER.Warningf("[NOTIFY] %s for %s attempt %d/%d: %v", channel, event.TransactionID, attempt, d.policy.Attempts, err)
	if wait, ok := d.policy.Next(attempt, err); ok {
		d.jobs.SubmitAfter(wait, d.job(channel, event, deliver, attempt+1))
		return nil
	}

	metrics.Notifications.WithLabelValues(channel, "failed").Inc()
	logging.LOGGER.Errorf("[NOTIFY] %s for %s abandoned: %v", channel, event.TransactionID, err)
	return retry.Cause(err)
}

var errSkipped = errors.New("nothing to deliver")

func (d *Dispatcher) deliverWebhook(ctx context.Context, event models.SettlementEvent) error {
	merchant, err := d.merchants.GetMerchant(ctx, event.MerchantID)
	if err != nil {
		return err
	}
	if merchant.WebhookURL == "" {
		return retry.Stop(errSkipped)
	}

	var secret string
	if d.secrets != nil && len(merchant.SecretSealed) > 0 {
		if secret, err = d.secrets.SigningSecret(merchant); err != nil {
			return retry.Stop(err)
		}
	}

	payload := WebhookPayload{
		TxRef:       event.TransactionID,
		Status:      "PAID",
		Amount:      event.Amount.StringFixed(2),
		NetAmount:   event.MerchantNet.StringFixed(2),
		Fee:         event.PlatformFee.StringFixed(2),
		Currency:    event.Currency,
		Provider:    event.Provider,
		Phone:       event.Destination,
		ProviderRef: event.ProviderRef,
		SettledAt:   event.SettledAt,
	}
	return d.webhooks.Send(ctx, merchant.WebhookURL, secret, settledEventType, payload)
}

func (d *Dispatcher) deliverSMS(ctx context.Context, event models.SettlementEvent) error {
	return d.sms.Send(ctx, event.Destination, ReceiptMessage(event.Amount.StringFixed(2), event.Currency, event.TransactionID))
}
