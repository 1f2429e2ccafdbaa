package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed fees.yaml
var defaultFeeSchedule []byte

// SystemAccounts are the ledger accounts that are not merchants
type SystemAccounts struct {
	PlatformRevenue string `yaml:"platform_revenue"`
	ProviderExpense string `yaml:"provider_expense"`
	Treasury        string `yaml:"treasury"`
}

type feeScheduleFile struct {
	Version             string            `yaml:"version"`
	MerchantFeeRate     string            `yaml:"merchant_fee_rate"`
	DefaultProviderRate string            `yaml:"default_provider_rate"`
	ProviderRates       map[string]string `yaml:"provider_rates"`
	Accounts            SystemAccounts    `yaml:"accounts"`
}

// FeeSchedule is a versioned, read-only set of commission rates
type FeeSchedule struct {
	version         string
	merchantFeeRate decimal.Decimal
	defaultRate     decimal.Decimal
	providerRates   map[string]decimal.Decimal
	accounts        SystemAccounts
}

// LoadFeeSchedule reads the schedule at path, or the built-in one when path is empty
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	if path == "" {
		return ParseFeeSchedule(defaultFeeSchedule)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	return ParseFeeSchedule(data)
}

// DefaultFeeSchedule returns the built-in schedule
func DefaultFeeSchedule() *FeeSchedule {
	fs, err := ParseFeeSchedule(defaultFeeSchedule)
	if err != nil {
		panic(err)
	}
	return fs
}

func ParseFeeSchedule(data []byte) (*FeeSchedule, error) {
	var raw feeScheduleFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid fee schedule: %w", err)
	}

	if raw.Version == "" {
		return nil, errors.New("fee schedule version is required")
	}

	merchantRate, err := parseRate("merchant_fee_rate", raw.MerchantFeeRate)
	if err != nil {
		return nil, err
	}

	defaultRate, err := parseRate("default_provider_rate", raw.DefaultProviderRate)
	if err != nil {
		return nil, err
	}

	rates := make(map[string]decimal.Decimal, len(raw.ProviderRates))
	for provider, value := range raw.ProviderRates {
		rate, err := parseRate("provider_rates."+provider, value)
		if err != nil {
			return nil, err
		}
		rates[strings.ToUpper(provider)] = rate
	}

	if raw.Accounts.PlatformRevenue == "" || raw.Accounts.ProviderExpense == "" || raw.Accounts.Treasury == "" {
		return nil, errors.New("fee schedule must name platform_revenue, provider_expense and treasury accounts")
	}

	return &FeeSchedule{
		version:         raw.Version,
		merchantFeeRate: merchantRate,
		defaultRate:     defaultRate,
		providerRates:   rates,
		accounts:        raw.Accounts,
	}, nil
}

func parseRate(field, value string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee schedule %s: %w", field, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("fee schedule %s must be in [0, 1), got %s", field, value)
	}
	return rate, nil
}

func (f *FeeSchedule) Version() string { return f.version }

func (f *FeeSchedule) MerchantFeeRate() decimal.Decimal { return f.merchantFeeRate }

func (f *FeeSchedule) Accounts() SystemAccounts { return f.accounts }

// ProviderRate returns the provider cost rate, falling back to the default rate
func (f *FeeSchedule) ProviderRate(provider string) decimal.Decimal {
	if rate, ok := f.providerRates[strings.ToUpper(provider)]; ok {
		return rate
	}
	return f.defaultRate
}
