// Package grouper re-pairs the two legs of a currency conversion that
// providers export as separate rows. The from leg (money leaving the held
// currency) and the to leg (money arriving in the settlement currency) share
// a counterparty reference; pairing folds them into one ConversionGroup so
// booking can emit a single posting with an explicit exchange rate.
package grouper

import (
	"fmt"
	"log/slog"

	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/shopspring/decimal"
)

// DanglingConversionWarning reports a conversion leg whose counterpart never
// appeared in the export. The leg is excluded from booking.
type DanglingConversionWarning struct {
	ReferenceID string
	Currency    string
}

func (e DanglingConversionWarning) Error() string {
	return fmt.Sprintf("conversion leg %s (%s) has no matching counterpart", e.ReferenceID, e.Currency)
}

// Is implements the errors.Is interface for DanglingConversionWarning
func (e DanglingConversionWarning) Is(target error) bool {
	t, ok := target.(DanglingConversionWarning)
	if !ok {
		return false
	}
	return t.ReferenceID == "" || e.ReferenceID == t.ReferenceID
}

// AmbiguousConversionWarning reports a to leg whose counterparty reference
// is contested: either it was already paired by an earlier to leg (first
// wins), or more than one from leg is still open for it. The leg passes
// through ungrouped.
type AmbiguousConversionWarning struct {
	ReferenceID string
	Candidates  []string
}

func (e AmbiguousConversionWarning) Error() string {
	return fmt.Sprintf("conversion leg %s matches %d open counterparts", e.ReferenceID, len(e.Candidates))
}

// Is implements the errors.Is interface for AmbiguousConversionWarning
func (e AmbiguousConversionWarning) Is(target error) bool {
	t, ok := target.(AmbiguousConversionWarning)
	if !ok {
		return false
	}
	return t.ReferenceID == "" || e.ReferenceID == t.ReferenceID
}

// Result carries the grouped records plus the warnings raised while pairing
type Result struct {
	Records  []record.Grouped
	Warnings []error
}

// Grouper pairs conversion legs within one export, in row order
type Grouper struct {
	logger *slog.Logger
}

// New creates a grouper
func New(logger *slog.Logger) *Grouper {
	return &Grouper{logger: logger}
}

// openLeg is a from leg still waiting for its counterpart
type openLeg struct {
	rec record.ProviderRecord
}

// Group pairs conversion legs and passes everything else through unchanged.
// A conversion row whose balance delta is zero is a from leg: the provider
// states running balances only for currencies the account holds, so the leg
// draining a foreign currency leaves the stated balance untouched. The next
// conversion row carrying the same counterparty reference with a real
// balance movement is its to leg.
func (g *Grouper) Group(records []record.ProviderRecord) Result {
	var res Result
	out := make([]record.Grouped, 0, len(records))

	// last stated balance per currency, for delta detection
	balances := make(map[string]decimal.Decimal)
	open := make(map[string][]openLeg)
	// counterparty reference -> to leg that already claimed it
	paired := make(map[string]string)

	for _, rec := range records {
		prev, seen := balances[rec.Currency]
		balances[rec.Currency] = rec.Balance

		if rec.Type != record.TypeConversion {
			out = append(out, record.Grouped{Record: rec})
			continue
		}

		delta := rec.Balance
		if seen {
			delta = rec.Balance.Sub(prev)
		} else if rec.Net.IsNegative() {
			// First sight of this currency. The export window may start
			// mid-history with a held balance, so the stated balance alone
			// cannot stand in for the delta; a draining movement is a from
			// leg regardless.
			delta = decimal.Zero
		}

		if delta.IsZero() {
			// From leg: hold until the to leg arrives.
			if rec.CounterpartyReferenceID == "" {
				g.logger.Warn("Conversion leg has no counterparty reference", "reference_id", rec.ReferenceID)
				res.Warnings = append(res.Warnings, DanglingConversionWarning{ReferenceID: rec.ReferenceID, Currency: rec.Currency})
				continue
			}
			open[rec.CounterpartyReferenceID] = append(open[rec.CounterpartyReferenceID], openLeg{rec: rec})
			continue
		}

		if winner, ok := paired[rec.CounterpartyReferenceID]; ok {
			// A to leg already claimed this reference: first wins.
			g.logger.Warn("Conversion reference already paired",
				"reference_id", rec.ReferenceID, "paired_to", winner)
			res.Warnings = append(res.Warnings, AmbiguousConversionWarning{
				ReferenceID: rec.ReferenceID, Candidates: []string{winner}})
			out = append(out, record.Grouped{Record: rec})
			continue
		}

		legs := open[rec.CounterpartyReferenceID]
		switch len(legs) {
		case 1:
			from := legs[0].rec
			delete(open, rec.CounterpartyReferenceID)
			paired[rec.CounterpartyReferenceID] = rec.ReferenceID
			group := record.NewConversionGroup(from, rec)
			out = append(out, record.Grouped{Record: rec, Group: &group})
		case 0:
			// To leg without a from leg books as a plain movement.
			g.logger.Warn("Conversion leg has no open counterpart",
				"reference_id", rec.ReferenceID, "counterparty_reference_id", rec.CounterpartyReferenceID)
			res.Warnings = append(res.Warnings, DanglingConversionWarning{ReferenceID: rec.ReferenceID, Currency: rec.Currency})
			out = append(out, record.Grouped{Record: rec})
		default:
			candidates := make([]string, len(legs))
			for i, l := range legs {
				candidates[i] = l.rec.ReferenceID
			}
			g.logger.Warn("Conversion leg matches multiple open counterparts",
				"reference_id", rec.ReferenceID, "candidates", candidates)
			res.Warnings = append(res.Warnings, AmbiguousConversionWarning{ReferenceID: rec.ReferenceID, Candidates: candidates})
			out = append(out, record.Grouped{Record: rec})
		}
	}

	// From legs never closed stay out of the booking stream.
	for _, legs := range open {
		for _, l := range legs {
			g.logger.Warn("Conversion leg never matched", "reference_id", l.rec.ReferenceID)
			res.Warnings = append(res.Warnings, DanglingConversionWarning{ReferenceID: l.rec.ReferenceID, Currency: l.rec.Currency})
		}
	}

	res.Records = out
	return res
}
