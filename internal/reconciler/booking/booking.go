// Package booking turns classified provider records into balanced
// double-entry postings. Every posting sums to zero at two decimal places;
// VAT is extracted from gross amounts and conversion residuals land on the
// clearing account so rounding can never break the balance.
package booking

import (
	"fmt"
	"log/slog"

	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/posting"
	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/shopspring/decimal"
)

// BalanceMismatchError reports a provider-stated running balance that does
// not match the computed one. The record books as a fatal batch entry and
// the stated balance is adopted so one gap does not cascade down the export.
type BalanceMismatchError struct {
	Reference string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e BalanceMismatchError) Error() string {
	return fmt.Sprintf("balance mismatch at %s: computed %s, provider states %s",
		e.Reference, e.Expected.StringFixed(2), e.Actual.StringFixed(2))
}

// Is implements the errors.Is interface for BalanceMismatchError
func (e BalanceMismatchError) Is(target error) bool {
	t, ok := target.(BalanceMismatchError)
	if !ok {
		return false
	}
	return t.Reference == "" || e.Reference == t.Reference
}

// Generator books one export run for one task. It is stateful: the running
// balance in the task's base currency advances with every record seen, in
// row order, whether or not the record produces a posting.
type Generator struct {
	task     *config.Task
	vatRates map[string]decimal.Decimal
	logger   *slog.Logger

	running    decimal.Decimal
	opening    decimal.Decimal
	hasBalance bool
}

// NewGenerator creates a generator for the task. Invalid VAT configuration
// fails here, before any record is booked.
func NewGenerator(task *config.Task, logger *slog.Logger) (*Generator, error) {
	rates, err := task.VATRates()
	if err != nil {
		return nil, err
	}
	return &Generator{
		task:     task,
		vatRates: rates,
		logger:   logger,
	}, nil
}

// OpeningBalance is the balance before the first base-currency record,
// derived as its stated balance minus its net amount
func (g *Generator) OpeningBalance() decimal.Decimal { return g.opening }

// ClosingBalance is the running balance after the last record observed
func (g *Generator) ClosingBalance() decimal.Decimal { return g.running }

// Observe advances the running balance for a record that will not be booked,
// such as one already present in the idempotency ledger. It returns a
// BalanceMismatchError when the provider's stated balance disagrees.
func (g *Generator) Observe(rec record.ProviderRecord) error {
	return g.advance(rec)
}

// advance verifies and moves the running balance for base-currency records
func (g *Generator) advance(rec record.ProviderRecord) error {
	if rec.Currency != g.task.BaseCurrency {
		return nil
	}
	if !g.hasBalance {
		g.hasBalance = true
		g.opening = rec.Balance.Sub(rec.Net)
		g.running = rec.Balance
		return nil
	}
	expected := g.running.Add(rec.Net)
	// Adopt the stated balance either way, a single gap must not cascade.
	g.running = rec.Balance
	if !expected.Equal(rec.Balance) {
		return BalanceMismatchError{Reference: rec.ReferenceID, Expected: expected, Actual: rec.Balance}
	}
	return nil
}

// Generate books one classified record into a balanced posting. A non-nil
// posting may come back alongside a BalanceMismatchError; the caller decides
// whether a fatal batch still books.
func (g *Generator) Generate(c record.ClassifiedRecord) (*posting.Posting, error) {
	balErr := g.advance(c.Record)

	var p *posting.Posting
	if c.Group != nil {
		var err error
		if p, err = g.conversionPosting(c); err != nil {
			return nil, err
		}
	} else {
		p = g.simplePosting(c)
	}

	if err := p.Validate(); err != nil {
		g.logger.Error("Generated posting does not balance",
			"reference_id", c.Record.ReferenceID, "error", err)
		return nil, err
	}
	return p, balErr
}

// simplePosting books a single-leg record: the provider account takes the
// net amount, fees go to costs, VAT is split out of gross and the remainder
// lands on the classified counter account
func (g *Generator) simplePosting(c record.ClassifiedRecord) *posting.Posting {
	rec := c.Record
	p := posting.New(rec.Timestamp, g.description(rec), rec.ReferenceID)

	p.AddLine(c.Account, rec.Net, "")

	if !rec.Fee.IsZero() {
		p.AddLine(g.task.Accounts.Costs, rec.Fee.Neg(), "provider fee")
	}

	vat := g.vatFromGross(rec.Gross, c.SalesType)
	revenue := rec.Gross.Sub(vat)
	if !revenue.IsZero() {
		p.AddLine(c.CounterAccount, revenue.Neg(), "")
	}
	if !vat.IsZero() {
		p.AddLine(g.task.Accounts.VAT, vat.Neg(), "VAT "+string(c.SalesType))
	}

	return p
}

// conversionPosting books both legs of a paired currency conversion as one
// posting. The to leg settles on the provider account; the from leg books
// against the counter account at the group's rate, carrying the foreign
// amount. Any rounding residual goes to the clearing account.
func (g *Generator) conversionPosting(c record.ClassifiedRecord) (*posting.Posting, error) {
	grp := c.Group
	p := posting.New(c.Record.Timestamp, g.description(c.Record),
		grp.From.ReferenceID, grp.To.ReferenceID)

	p.AddLine(c.Account, grp.To.Net, "")

	converted := grp.From.Net.Abs().Mul(grp.Rate).Round(2)
	p.AddForeignLine(c.CounterAccount, converted.Neg(),
		grp.From.Net, grp.From.Currency, grp.Rate,
		fmt.Sprintf("conversion %s to %s", grp.From.Currency, grp.To.Currency))

	if residual := converted.Sub(grp.To.Net); !residual.IsZero() {
		if g.task.Accounts.Kruispost == "" {
			return nil, BalanceMismatchError{
				Reference: grp.To.ReferenceID,
				Expected:  grp.To.Net,
				Actual:    converted,
			}
		}
		p.AddLine(g.task.Accounts.Kruispost, residual, "conversion rounding")
	}

	return p, nil
}

// vatFromGross extracts included VAT from a gross amount for the sales
// type's configured rate. Sales types without a configured rate carry no
// VAT, and Other/Unknown never do, whatever the task configures.
func (g *Generator) vatFromGross(gross decimal.Decimal, salesType record.SalesType) decimal.Decimal {
	if salesType == record.SalesTypeOther || salesType == record.SalesTypeUnknown {
		return decimal.Zero
	}
	pct, ok := g.vatRates[string(salesType)]
	if !ok || pct.IsZero() {
		return decimal.Zero
	}
	return gross.Mul(pct).Div(pct.Add(decimal.NewFromInt(100))).Round(2)
}

func (g *Generator) description(rec record.ProviderRecord) string {
	desc := string(rec.Type)
	if rec.CounterpartyName != "" {
		desc += " " + rec.CounterpartyName
	}
	return desc + " (" + rec.ReferenceID + ")"
}
