// Package posting defines the double-entry ledger posting model. A posting is
// a balanced set of lines: the sum of all line amounts is exactly zero at two
// decimal places. Postings are immutable once emitted by the booking engine.
package posting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one side of a double-entry booking, amount in base currency.
// ForeignAmount, ForeignCurrency and Rate are only set for lines that
// originate from a currency conversion.
type Line struct {
	Account         string           `json:"account"`
	Amount          decimal.Decimal  `json:"amount"`
	ForeignAmount   *decimal.Decimal `json:"foreign_amount,omitempty"`
	ForeignCurrency string           `json:"foreign_currency,omitempty"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Description     string           `json:"description,omitempty"`
}

// Posting is one ledger transaction. References holds the provider reference
// ids that back the posting; the idempotency ledger is keyed on them.
type Posting struct {
	ID          uuid.UUID `json:"id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	References  []string  `json:"references"`
	Lines       []Line    `json:"lines"`
}

// New creates an empty posting for the given date and source references
func New(date time.Time, description string, references ...string) *Posting {
	return &Posting{
		ID:          uuid.New(),
		Date:        date,
		Description: description,
		References:  references,
	}
}

// AddLine appends a base-currency line
func (p *Posting) AddLine(account string, amount decimal.Decimal, description string) {
	p.Lines = append(p.Lines, Line{
		Account:     account,
		Amount:      amount,
		Description: description,
	})
}

// AddForeignLine appends a line carrying the originating foreign amount and
// the conversion rate used to arrive at the base-currency amount
func (p *Posting) AddForeignLine(account string, amount, foreign decimal.Decimal, currency string, rate decimal.Decimal, description string) {
	p.Lines = append(p.Lines, Line{
		Account:         account,
		Amount:          amount,
		ForeignAmount:   &foreign,
		ForeignCurrency: currency,
		Rate:            &rate,
		Description:     description,
	})
}

// Sum returns the sum of all line amounts
func (p *Posting) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, line := range p.Lines {
		sum = sum.Add(line.Amount)
	}
	return sum
}

// AccountSum returns the sum of line amounts booked to the given account
func (p *Posting) AccountSum(account string) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range p.Lines {
		if line.Account == account {
			sum = sum.Add(line.Amount)
		}
	}
	return sum
}

// Validate enforces the zero-sum invariant at two decimal places
func (p *Posting) Validate() error {
	if sum := p.Sum().Round(2); !sum.IsZero() {
		return ErrUnbalancedPosting{PostingID: p.ID, Sum: sum}
	}
	return nil
}

// ErrUnbalancedPosting indicates a zero-sum invariant violation
type ErrUnbalancedPosting struct {
	PostingID uuid.UUID
	Sum       decimal.Decimal
}

func (e ErrUnbalancedPosting) Error() string {
	return "unbalanced posting " + e.PostingID.String() + ": line sum is " + e.Sum.StringFixed(2)
}

// Is implements the errors.Is interface for ErrUnbalancedPosting
func (e ErrUnbalancedPosting) Is(target error) bool {
	t, ok := target.(ErrUnbalancedPosting)
	if !ok {
		return false
	}
	if t.PostingID == uuid.Nil {
		return true
	}
	return e.PostingID == t.PostingID
}
