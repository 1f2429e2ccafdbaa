package services

import (
	"net/http"

	"github.com/kwikpesa/gateway/internal/providers"
)

// BankInfo is a bank a checkout can collect from
type BankInfo struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	SortCode string `json:"sort_code"`
	Provider string `json:"provider"`
}

type BankService struct{}

func NewBankService() *BankService {
	return &BankService{}
}

func (bs *BankService) ListBanks() []BankInfo {
	banks := providers.Banks()
	out := make([]BankInfo, len(banks))
	for i, b := range banks {
		out[i] = BankInfo{
			Code:     b.Code,
			Name:     b.Name,
			SortCode: b.SortCode,
			Provider: b.Identity(),
		}
	}
	return out
}

func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	SendJSON(w, http.StatusOK, bs.ListBanks())
}
