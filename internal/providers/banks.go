package providers

import "strings"

const BankPrefix = "BANK_"

type Bank struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	SortCode string `json:"sortCode"`
}

var malawiBanks = []Bank{
	{Code: "ECO", Name: "Ecobank", SortCode: "040000"},
	{Code: "FCB", Name: "First Capital Bank", SortCode: "030006"},
	{Code: "NBM", Name: "National Bank of Malawi", SortCode: "050015"},
	{Code: "NBS", Name: "NBS Bank", SortCode: "100100"},
	{Code: "STD", Name: "Standard Bank", SortCode: "010000"},
}

// Banks returns the supported banks ordered by code
func Banks() []Bank {
	banks := make([]Bank, len(malawiBanks))
	copy(banks, malawiBanks)
	return banks
}

// LookupBank finds a bank by its short code (NBM) or provider identity (BANK_NBM)
func LookupBank(code string) (Bank, bool) {
	code = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(code)), BankPrefix)
	for _, b := range malawiBanks {
		if b.Code == code {
			return b, true
		}
	}
	return Bank{}, false
}

// Identity is the canonical provider identity used for routing and fees
func (b Bank) Identity() string {
	return BankPrefix + b.Code
}
