// Package export serializes a sealed batch into the hierarchical ledger
// document consumed by downstream accounting systems. The document is the
// canonical interchange format: Serialize and Parse round-trip, and
// VerifyBalance re-checks the zero-sum invariant on the wire form so a
// corrupted document is caught before import.
package export

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/paystream-reconciler/internal/domain/batch"
	"github.com/paystream-reconciler/internal/domain/posting"
	"github.com/shopspring/decimal"
)

// ContentType identifies serialized ledger documents on the wire
const ContentType = "application/vnd.ledger+xml"

const dateLayout = "2006-01-02"

// LedgerDocument is the root of the interchange format
type LedgerDocument struct {
	XMLName      xml.Name      `xml:"ledger"`
	Journal      string        `xml:"journal,attr"`
	TaskID       string        `xml:"task,attr"`
	BatchID      string        `xml:"batch,attr"`
	Period       Period        `xml:"period"`
	Opening      string        `xml:"openingBalance"`
	Closing      string        `xml:"closingBalance"`
	Transactions []Transaction `xml:"transactions>transaction"`
}

// Period is the date range the batch covers
type Period struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

// Transaction is one posting in wire form
type Transaction struct {
	ID          string   `xml:"id,attr"`
	Date        string   `xml:"date,attr"`
	Description string   `xml:"description"`
	References  []string `xml:"references>reference"`
	Lines       []Line   `xml:"lines>line"`
}

// Line is one side of a transaction. Amounts are fixed-point strings; the
// foreign element only appears on conversion lines.
type Line struct {
	Account     string         `xml:"account,attr"`
	Description string         `xml:"description,omitempty"`
	Amount      string         `xml:"amount"`
	Foreign     *ForeignAmount `xml:"foreignAmount,omitempty"`
}

// ForeignAmount carries the originating currency leg of a conversion line
type ForeignAmount struct {
	Currency string `xml:"currency,attr"`
	Value    string `xml:"value"`
	Rate     string `xml:"rate"`
}

// Build maps a sealed batch and its postings onto the wire form
func Build(b *batch.Batch, journal string, postings []*posting.Posting) *LedgerDocument {
	doc := &LedgerDocument{
		Journal: journal,
		TaskID:  b.TaskID,
		BatchID: b.ID.String(),
		Period: Period{
			Start: b.PeriodStart.Format(dateLayout),
			End:   b.PeriodEnd.Format(dateLayout),
		},
		Opening: b.OpeningBalance.StringFixed(2),
		Closing: b.ClosingBalance.StringFixed(2),
	}
	for _, p := range postings {
		tx := Transaction{
			ID:          p.ID.String(),
			Date:        p.Date.Format(dateLayout),
			Description: p.Description,
			References:  p.References,
		}
		for _, l := range p.Lines {
			line := Line{
				Account:     l.Account,
				Description: l.Description,
				Amount:      l.Amount.StringFixed(2),
			}
			if l.ForeignAmount != nil {
				line.Foreign = &ForeignAmount{
					Currency: l.ForeignCurrency,
					Value:    l.ForeignAmount.StringFixed(2),
					Rate:     l.Rate.String(),
				}
			}
			tx.Lines = append(tx.Lines, line)
		}
		doc.Transactions = append(doc.Transactions, tx)
	}
	return doc
}

// Serialize renders a sealed batch as an indented XML ledger document
func Serialize(b *batch.Batch, journal string, postings []*posting.Posting) ([]byte, error) {
	doc := Build(b, journal, postings)
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ledger document for batch %s: %w", b.ID, err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Parse decodes a ledger document from its wire form
func Parse(data []byte) (*LedgerDocument, error) {
	var doc LedgerDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ledger document: %w", err)
	}
	return &doc, nil
}

// VerifyBalance re-checks every transaction's zero-sum invariant on the
// wire form; a document that fails was corrupted or edited after sealing
func VerifyBalance(doc *LedgerDocument) error {
	for _, tx := range doc.Transactions {
		sum := decimal.Zero
		for _, line := range tx.Lines {
			amount, err := decimal.NewFromString(line.Amount)
			if err != nil {
				return fmt.Errorf("transaction %s: invalid amount %q on account %s", tx.ID, line.Amount, line.Account)
			}
			sum = sum.Add(amount)
		}
		if !sum.IsZero() {
			return fmt.Errorf("transaction %s does not balance: line sum is %s", tx.ID, sum.StringFixed(2))
		}
	}
	return nil
}

// PeriodOf parses the document's covered period
func (d *LedgerDocument) PeriodOf() (start, end time.Time, err error) {
	start, err = time.Parse(dateLayout, d.Period.Start)
	if err != nil {
		return start, end, fmt.Errorf("invalid period start %q: %w", d.Period.Start, err)
	}
	end, err = time.Parse(dateLayout, d.Period.End)
	if err != nil {
		return start, end, fmt.Errorf("invalid period end %q: %w", d.Period.End, err)
	}
	return start, end, nil
}
