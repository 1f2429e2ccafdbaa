package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kwikpesa/gateway/internal/logging"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
)

const settlementAgentBIC = "KWIKMWMW"

// BankGateway requests a direct debit from a customer bank account over ISO 20022
type BankGateway struct {
	httpGateway
	bank     Bank
	currency string
}

func NewBankGateway(bank Bank, currency string, opts Options) *BankGateway {
	return &BankGateway{
		httpGateway: newHTTPGateway(bank.Identity(), opts),
		bank:        bank,
		currency:    currency,
	}
}

func (g *BankGateway) Push(ctx context.Context, destination string, amount decimal.Decimal, ref string) (Ack, error) {
	logging.LOGGER.Infof("[PROVIDER] %s initiating transfer request for %s", g.name, ref)

	doc := g.CreatePacs008(destination, amount, ref)
	payload, err := ConvertToXML(doc)
	if err != nil {
		return Ack{}, err
	}

	return g.post(ctx, "/bank/initiate", "application/xml", []byte(payload))
}

func (g *BankGateway) Status(ctx context.Context, ref string) (AckStatus, error) {
	ack, err := g.get(ctx, "/bank/status/"+url.PathEscape(ref))
	return ack.Status, err
}

// CreatePacs008 builds the FIToFICustomerCreditTransfer for one collection
func (g *BankGateway) CreatePacs008(account string, amount decimal.Decimal, ref string) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgId := uuid.New().String()
	now := time.Now()
	value := amount.Round(2).InexactFloat64()

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(g.currency),
				Value: value,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(ref)}[0],
					EndToEndId: common.Max35Text(ref),
					TxId:       &[]common.Max35Text{common.Max35Text(ref)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(g.currency),
					Value: value,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(g.bank.SortCode),
						},
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(account)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(settlementAgentBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("KWIKPESA SETTLEMENT")}[0],
				},
			},
		},
	}
}

// ConvertToXML converts ISO20022 document to XML string
func ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
