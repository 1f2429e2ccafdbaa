package services

import (
	"strings"

	"github.com/kwikpesa/gateway/internal/providers"
)

// RouteRequest is the raw destination a merchant submits at checkout
type RouteRequest struct {
	Provider      string `json:"provider" validate:"required"`
	Phone         string `json:"phone,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// Route is a canonical provider identity plus the normalized destination
type Route struct {
	Provider    string `json:"provider"`
	Destination string `json:"destination"`
}

const minAccountNumberLen = 5

var networkPrefixes = map[string][]string{
	"AIRTEL": {"99", "98"},
	"TNM":    {"88", "89"},
}

// RouterService classifies a destination into a provider identity
type RouterService struct{}

func NewRouterService() *RouterService {
	return &RouterService{}
}

func (r *RouterService) Route(req RouteRequest) (Route, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Provider))
	code = strings.TrimPrefix(code, providers.BankPrefix)

	if bank, ok := providers.LookupBank(code); ok {
		account := strings.TrimSpace(req.AccountNumber)
		if len(account) < minAccountNumberLen {
			return Route{}, NewValidationError("account_number", "invalid bank account number")
		}
		return Route{Provider: bank.Identity(), Destination: account}, nil
	}

	switch code {
	case "AIRTEL", "TNM", "MOBILE_MONEY":
		phone, err := CleanPhone(req.Phone)
		if err != nil {
			return Route{}, err
		}

		network := detectNetwork(phone)
		if network == "" {
			return Route{}, NewValidationError("phone", "unsupported mobile network prefix")
		}
		if code != "MOBILE_MONEY" && code != network {
			return Route{}, NewValidationError("phone", "number does not belong to "+code)
		}
		return Route{Provider: network, Destination: phone}, nil
	}

	return Route{}, NewValidationError("provider", "unsupported provider: "+req.Provider)
}

// CleanPhone reduces a Malawian number to its 9-digit national form
func CleanPhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "265") && len(digits) > 9 {
		digits = digits[3:]
	}
	digits = strings.TrimPrefix(digits, "0")

	if len(digits) != 9 {
		return "", NewValidationError("phone", "invalid phone length")
	}
	return digits, nil
}

func detectNetwork(phone string) string {
	for network, prefixes := range networkPrefixes {
		for _, p := range prefixes {
			if strings.HasPrefix(phone, p) {
				return network
			}
		}
	}
	return ""
}
