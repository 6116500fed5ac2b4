package grouper

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func rec(refID, counterRefID string, typ record.Type, currency, net, balance string) record.ProviderRecord {
	return record.ProviderRecord{
		ReferenceID:             refID,
		CounterpartyReferenceID: counterRefID,
		Timestamp:               time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Type:                    typ,
		Currency:                currency,
		Gross:                   decimal.RequireFromString(net),
		Net:                     decimal.RequireFromString(net),
		Balance:                 decimal.RequireFromString(balance),
	}
}

func TestGrouper_PairsConversionLegs(t *testing.T) {
	g := New(newTestLogger())

	// The USD from leg drains a currency the account does not hold, so its
	// stated balance never moves. The EUR to leg lands the proceeds.
	records := []record.ProviderRecord{
		rec("PAY-1", "", record.TypePayment, "EUR", "96.50", "1096.50"),
		rec("CNV-USD", "X1", record.TypeConversion, "USD", "-100.00", "0.00"),
		rec("CNV-EUR", "X1", record.TypeConversion, "EUR", "92.13", "1188.63"),
	}

	res := g.Group(records)

	require.Empty(t, res.Warnings)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "PAY-1", res.Records[0].Record.ReferenceID)
	assert.Nil(t, res.Records[0].Group)

	paired := res.Records[1]
	assert.Equal(t, "CNV-EUR", paired.Record.ReferenceID)
	require.NotNil(t, paired.Group)
	assert.Equal(t, "CNV-USD", paired.Group.From.ReferenceID)
	assert.Equal(t, "CNV-EUR", paired.Group.To.ReferenceID)
	// rate = 92.13 / 100.00
	assert.True(t, paired.Group.Rate.Equal(decimal.RequireFromString("0.9213")))
}

func TestGrouper_DanglingFromLeg(t *testing.T) {
	g := New(newTestLogger())

	records := []record.ProviderRecord{
		rec("CNV-USD", "X1", record.TypeConversion, "USD", "-100.00", "0.00"),
		rec("PAY-1", "", record.TypePayment, "EUR", "96.50", "1096.50"),
	}

	res := g.Group(records)

	// The from leg never found its counterpart and must not book.
	require.Len(t, res.Records, 1)
	assert.Equal(t, "PAY-1", res.Records[0].Record.ReferenceID)

	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0], DanglingConversionWarning{ReferenceID: "CNV-USD"}))
}

func TestGrouper_DanglingToLegBooksUngrouped(t *testing.T) {
	g := New(newTestLogger())

	records := []record.ProviderRecord{
		rec("PAY-1", "", record.TypePayment, "EUR", "10.00", "1010.00"),
		rec("CNV-EUR", "X9", record.TypeConversion, "EUR", "92.13", "1102.13"),
	}

	res := g.Group(records)

	// The to leg moved real money, so it still books as a plain movement.
	require.Len(t, res.Records, 2)
	assert.Equal(t, "CNV-EUR", res.Records[1].Record.ReferenceID)
	assert.Nil(t, res.Records[1].Group)

	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0], DanglingConversionWarning{ReferenceID: "CNV-EUR"}))
}

func TestGrouper_AmbiguousCounterpart(t *testing.T) {
	g := New(newTestLogger())

	records := []record.ProviderRecord{
		rec("CNV-USD-1", "X1", record.TypeConversion, "USD", "-100.00", "0.00"),
		rec("CNV-GBP-1", "X1", record.TypeConversion, "GBP", "-80.00", "0.00"),
		rec("CNV-EUR", "X1", record.TypeConversion, "EUR", "92.13", "1092.13"),
	}

	res := g.Group(records)

	// Two open from legs claim the same counterparty reference: the to leg
	// books ungrouped and both from legs stay out.
	require.Len(t, res.Records, 1)
	assert.Equal(t, "CNV-EUR", res.Records[0].Record.ReferenceID)
	assert.Nil(t, res.Records[0].Group)

	var ambiguous AmbiguousConversionWarning
	found := false
	for _, w := range res.Warnings {
		if errors.As(w, &ambiguous) {
			found = true
		}
	}
	require.True(t, found)
	assert.ElementsMatch(t, []string{"CNV-USD-1", "CNV-GBP-1"}, ambiguous.Candidates)

	dangling := 0
	for _, w := range res.Warnings {
		if errors.Is(w, DanglingConversionWarning{}) {
			dangling++
		}
	}
	assert.Equal(t, 2, dangling)
}

func TestGrouper_DuplicateToLegFirstWins(t *testing.T) {
	g := New(newTestLogger())

	records := []record.ProviderRecord{
		rec("CNV-USD", "X1", record.TypeConversion, "USD", "-100.00", "0.00"),
		rec("CNV-EUR-1", "X1", record.TypeConversion, "EUR", "92.13", "1092.13"),
		rec("CNV-EUR-2", "X1", record.TypeConversion, "EUR", "92.13", "1184.26"),
	}

	res := g.Group(records)

	// First to leg pairs; the later one is ambiguous, not dangling, and
	// books ungrouped.
	require.Len(t, res.Records, 2)
	require.NotNil(t, res.Records[0].Group)
	assert.Equal(t, "CNV-EUR-1", res.Records[0].Record.ReferenceID)
	assert.Equal(t, "CNV-EUR-2", res.Records[1].Record.ReferenceID)
	assert.Nil(t, res.Records[1].Group)

	require.Len(t, res.Warnings, 1)
	var ambiguous AmbiguousConversionWarning
	require.True(t, errors.As(res.Warnings[0], &ambiguous))
	assert.Equal(t, "CNV-EUR-2", ambiguous.ReferenceID)
	assert.Equal(t, []string{"CNV-EUR-1"}, ambiguous.Candidates)
}

func TestGrouper_FromLegWithHeldForeignBalance(t *testing.T) {
	g := New(newTestLogger())

	// The export window opens mid-history: USD already holds 500.00, so the
	// from leg's first stated balance is nonzero even though it never moves.
	records := []record.ProviderRecord{
		rec("CNV-USD", "X1", record.TypeConversion, "USD", "-100.00", "500.00"),
		rec("CNV-EUR", "X1", record.TypeConversion, "EUR", "92.13", "1092.13"),
	}

	res := g.Group(records)

	require.Empty(t, res.Warnings)
	require.Len(t, res.Records, 1)
	paired := res.Records[0]
	require.NotNil(t, paired.Group)
	assert.Equal(t, "CNV-USD", paired.Group.From.ReferenceID)
	assert.Equal(t, "CNV-EUR", paired.Group.To.ReferenceID)
}

func TestGrouper_PassThroughUntouched(t *testing.T) {
	g := New(newTestLogger())

	records := []record.ProviderRecord{
		rec("PAY-1", "", record.TypePayment, "EUR", "96.50", "1096.50"),
		rec("FEE-1", "", record.TypeFee, "EUR", "-1.20", "1095.30"),
		rec("WDR-1", "", record.TypeWithdrawal, "EUR", "-500.00", "595.30"),
	}

	res := g.Group(records)

	require.Empty(t, res.Warnings)
	require.Len(t, res.Records, 3)
	for i, grouped := range res.Records {
		assert.Equal(t, records[i].ReferenceID, grouped.Record.ReferenceID)
		assert.Nil(t, grouped.Group)
	}
}
