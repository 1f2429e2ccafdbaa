package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/shopspring/decimal"
)

// AirtelGateway triggers Airtel Money PIN prompts
type AirtelGateway struct {
	httpGateway
}

func NewAirtelGateway(opts Options) *AirtelGateway {
	return &AirtelGateway{httpGateway: newHTTPGateway("AIRTEL", opts)}
}

func (g *AirtelGateway) Push(ctx context.Context, destination string, amount decimal.Decimal, ref string) (Ack, error) {
	logging.LOGGER.Infof("[PROVIDER] AIRTEL initiating push for %s - Ref: %s", destination, ref)

	amt, _ := amount.Float64()
	return g.postJSON(ctx, "/airtel/push", map[string]any{
		"msisdn":    NormalizeMSISDN(destination),
		"amount":    amt,
		"reference": ref,
	})
}

func (g *AirtelGateway) Status(ctx context.Context, ref string) (AckStatus, error) {
	ack, err := g.get(ctx, "/airtel/status/"+url.PathEscape(ref))
	return ack.Status, err
}

// TNMGateway triggers TNM Mpamba PIN prompts
type TNMGateway struct {
	httpGateway
}

func NewTNMGateway(opts Options) *TNMGateway {
	return &TNMGateway{httpGateway: newHTTPGateway("TNM", opts)}
}

func (g *TNMGateway) Push(ctx context.Context, destination string, amount decimal.Decimal, ref string) (Ack, error) {
	logging.LOGGER.Infof("[PROVIDER] TNM initiating Mpamba push for %s - Ref: %s", destination, ref)

	return g.postJSON(ctx, "/tnm/push", map[string]any{
		"msisdn":   NormalizeMSISDN(destination),
		"amount":   amount.StringFixed(2),
		"trans_id": ref,
		"remarks":  fmt.Sprintf("Payment for %s", ref),
	})
}

func (g *TNMGateway) Status(ctx context.Context, ref string) (AckStatus, error) {
	ack, err := g.get(ctx, "/tnm/status/"+url.PathEscape(ref))
	return ack.Status, err
}
