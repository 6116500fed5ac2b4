// Package record defines the typed provider-export row model shared by every
// stage of the reconciliation pipeline. Records are immutable once read.
package record

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type defines the canonical provider transaction types
type Type string

const (
	TypePayment    Type = "PAYMENT"
	TypeRefund     Type = "REFUND"
	TypeFee        Type = "FEE"
	TypeConversion Type = "CURRENCY_CONVERSION"
	TypeWithdrawal Type = "WITHDRAWAL"
)

// SalesType defines the VAT treatment of a classified record
type SalesType string

const (
	SalesTypeLocal     SalesType = "LOCAL"
	SalesTypeEUPrivate SalesType = "EU_PRIVATE"
	SalesTypeEUICP     SalesType = "EU_ICP"
	SalesTypeOther     SalesType = "OTHER"
	SalesTypeUnknown   SalesType = "UNKNOWN"
)

// ProviderRecord is one row of the provider's transaction export. Monetary
// fields are exact decimals; Balance is the running balance as stated by the
// provider for the record's currency.
type ProviderRecord struct {
	ReferenceID             string          `json:"reference_id"`
	CounterpartyReferenceID string          `json:"counterparty_reference_id"`
	Timestamp               time.Time       `json:"timestamp"`
	Type                    Type            `json:"type"`
	Currency                string          `json:"currency"`
	Gross                   decimal.Decimal `json:"gross"`
	Fee                     decimal.Decimal `json:"fee"`
	Net                     decimal.Decimal `json:"net"`
	Balance                 decimal.Decimal `json:"balance"`
	CounterpartyName        string          `json:"counterparty_name,omitempty"`
	CounterpartyEmail       string          `json:"counterparty_email,omitempty"`
	CounterpartyCountry     string          `json:"counterparty_country,omitempty"`
}

// ConversionGroup re-pairs the two legs of a currency conversion. The from
// leg has zero effect on its stated balance; the to leg carries the non-zero
// effect in the target currency. Rate is To.Net / abs(From.Net) at full
// division precision, rounded only when a posting line is finally emitted.
type ConversionGroup struct {
	From ProviderRecord
	To   ProviderRecord
	Rate decimal.Decimal
}

// NewConversionGroup pairs two legs and computes the effective rate
func NewConversionGroup(from, to ProviderRecord) ConversionGroup {
	return ConversionGroup{
		From: from,
		To:   to,
		Rate: to.Net.Div(from.Net.Abs()),
	}
}

// Grouped is one unit of the post-grouping stream: a bare provider record,
// or a re-paired conversion (Record is then the to leg and Group is set).
type Grouped struct {
	Record ProviderRecord
	Group  *ConversionGroup
}

// ClassifiedRecord annotates a grouped record with the GL accounts and VAT
// treatment assigned by the classifier chain. Produced once, never mutated.
type ClassifiedRecord struct {
	Record         ProviderRecord
	Group          *ConversionGroup
	Account        string
	CounterAccount string
	SalesType      SalesType
	Classifier     string
}
