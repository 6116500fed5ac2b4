package booking

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testTask() *config.Task {
	return &config.Task{
		ID:           "acme-eur",
		BaseCurrency: "EUR",
		HomeCountry:  "NL",
		Journal:      "90",
		Accounts: config.AccountMapping{
			Ledger:    "8000",
			Costs:     "4400",
			PP:        "1100",
			Kruispost: "2100",
			VAT:       "1630",
		},
		VATPercents: map[string]string{
			"LOCAL":      "21",
			"EU_PRIVATE": "21",
		},
	}
}

func newGen(t *testing.T) *Generator {
	t.Helper()
	gen, err := NewGenerator(testTask(), newTestLogger())
	require.NoError(t, err)
	return gen
}

func payment(refID, currency, gross, fee, net, balance string) record.ClassifiedRecord {
	return record.ClassifiedRecord{
		Record: record.ProviderRecord{
			ReferenceID: refID,
			Timestamp:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Type:        record.TypePayment,
			Currency:    currency,
			Gross:       decimal.RequireFromString(gross),
			Fee:         decimal.RequireFromString(fee),
			Net:         decimal.RequireFromString(net),
			Balance:     decimal.RequireFromString(balance),
		},
		Account:        "1100",
		CounterAccount: "8000",
		SalesType:      record.SalesTypeLocal,
		Classifier:     "account-mapping",
	}
}

func TestGenerator_PaymentWithVAT(t *testing.T) {
	gen := newGen(t)

	p, err := gen.Generate(payment("REF-1", "EUR", "100.00", "-3.50", "96.50", "1972.38"))
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Validate())

	// 21% VAT included in 100.00 gross is 17.36 after rounding.
	assert.Equal(t, "96.50", p.AccountSum("1100").StringFixed(2))
	assert.Equal(t, "3.50", p.AccountSum("4400").StringFixed(2))
	assert.Equal(t, "-82.64", p.AccountSum("8000").StringFixed(2))
	assert.Equal(t, "-17.36", p.AccountSum("1630").StringFixed(2))
	assert.Equal(t, []string{"REF-1"}, p.References)
}

func TestGenerator_RefundMirrorsPayment(t *testing.T) {
	gen := newGen(t)

	c := payment("REF-2", "EUR", "-50.00", "1.00", "-49.00", "1826.88")
	c.Record.Type = record.TypeRefund

	p, err := gen.Generate(c)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "-49.00", p.AccountSum("1100").StringFixed(2))
	assert.Equal(t, "-1.00", p.AccountSum("4400").StringFixed(2))
	assert.Equal(t, "41.32", p.AccountSum("8000").StringFixed(2))
	assert.Equal(t, "8.68", p.AccountSum("1630").StringFixed(2))
}

func TestGenerator_SalesTypeWithoutRateCarriesNoVAT(t *testing.T) {
	gen := newGen(t)

	c := payment("REF-3", "EUR", "100.00", "0.00", "100.00", "1975.88")
	c.SalesType = record.SalesTypeOther

	p, err := gen.Generate(c)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "-100.00", p.AccountSum("8000").StringFixed(2))
	assert.True(t, p.AccountSum("1630").IsZero())
}

func TestGenerator_OtherAndUnknownNeverCarryVAT(t *testing.T) {
	task := testTask()
	// A configured rate for these sales types must not produce a VAT line.
	task.VATPercents["OTHER"] = "21"
	task.VATPercents["UNKNOWN"] = "21"

	for _, salesType := range []record.SalesType{record.SalesTypeOther, record.SalesTypeUnknown} {
		gen, err := NewGenerator(task, newTestLogger())
		require.NoError(t, err)

		c := payment("REF-3", "EUR", "100.00", "0.00", "100.00", "1975.88")
		c.SalesType = salesType

		p, err := gen.Generate(c)
		require.NoError(t, err)
		require.NoError(t, p.Validate())

		assert.Equal(t, "-100.00", p.AccountSum("8000").StringFixed(2), string(salesType))
		assert.True(t, p.AccountSum("1630").IsZero(), string(salesType))
	}
}

func TestGenerator_FeeRecord(t *testing.T) {
	gen := newGen(t)

	c := record.ClassifiedRecord{
		Record: record.ProviderRecord{
			ReferenceID: "FEE-1",
			Timestamp:   time.Now(),
			Type:        record.TypeFee,
			Currency:    "EUR",
			Gross:       decimal.RequireFromString("-1.20"),
			Net:         decimal.RequireFromString("-1.20"),
			Balance:     decimal.RequireFromString("1874.68"),
		},
		Account:        "1100",
		CounterAccount: "4400",
		SalesType:      record.SalesTypeOther,
	}

	p, err := gen.Generate(c)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "-1.20", p.AccountSum("1100").StringFixed(2))
	assert.Equal(t, "1.20", p.AccountSum("4400").StringFixed(2))
}

func conversion(fromNet, toNet, toBalance string) record.ClassifiedRecord {
	from := record.ProviderRecord{
		ReferenceID: "CNV-USD",
		Timestamp:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:        record.TypeConversion,
		Currency:    "USD",
		Net:         decimal.RequireFromString(fromNet),
	}
	to := record.ProviderRecord{
		ReferenceID: "CNV-EUR",
		Timestamp:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:        record.TypeConversion,
		Currency:    "EUR",
		Net:         decimal.RequireFromString(toNet),
		Balance:     decimal.RequireFromString(toBalance),
	}
	group := record.NewConversionGroup(from, to)
	return record.ClassifiedRecord{
		Record:         to,
		Group:          &group,
		Account:        "1100",
		CounterAccount: "2100",
		SalesType:      record.SalesTypeOther,
	}
}

func TestGenerator_Conversion(t *testing.T) {
	gen := newGen(t)

	c := conversion("-100.00", "92.13", "1968.01")
	p, err := gen.Generate(c)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "92.13", p.AccountSum("1100").StringFixed(2))
	assert.Equal(t, "-92.13", p.AccountSum("2100").StringFixed(2))
	assert.ElementsMatch(t, []string{"CNV-USD", "CNV-EUR"}, p.References)

	var foreign bool
	for _, line := range p.Lines {
		if line.ForeignAmount != nil {
			foreign = true
			assert.Equal(t, "USD", line.ForeignCurrency)
			assert.Equal(t, "-100.00", line.ForeignAmount.StringFixed(2))
			// Re-applying the rate to the foreign amount gives the base amount.
			back := line.ForeignAmount.Abs().Mul(*line.Rate).Round(2)
			assert.Equal(t, line.Amount.Abs().StringFixed(2), back.StringFixed(2))
		}
	}
	assert.True(t, foreign)
}

func TestGenerator_ConversionRoundingResidual(t *testing.T) {
	gen := newGen(t)

	c := conversion("-100.00", "92.13", "1968.01")
	// Force a coarser rate than the legs imply, as an upstream system would.
	c.Group.Rate = decimal.RequireFromString("0.92")

	p, err := gen.Generate(c)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	assert.Equal(t, "92.13", p.AccountSum("1100").StringFixed(2))
	assert.True(t, p.Sum().IsZero())

	// 100.00 * 0.92 books against the counter account, the 0.13 gap lands
	// on the clearing account so the posting still balances.
	var foreignAmount, residualAmount string
	for _, line := range p.Lines {
		switch {
		case line.ForeignAmount != nil:
			foreignAmount = line.Amount.StringFixed(2)
		case line.Description == "conversion rounding":
			residualAmount = line.Amount.StringFixed(2)
		}
	}
	assert.Equal(t, "-92.00", foreignAmount)
	assert.Equal(t, "-0.13", residualAmount)
}

func TestGenerator_ConversionResidualWithoutClearingAccount(t *testing.T) {
	task := testTask()
	task.Accounts.Kruispost = ""
	gen, err := NewGenerator(task, newTestLogger())
	require.NoError(t, err)

	c := conversion("-100.00", "92.13", "1968.01")
	c.Group.Rate = decimal.RequireFromString("0.92")

	p, err := gen.Generate(c)
	assert.Nil(t, p)

	var mismatch BalanceMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "CNV-EUR", mismatch.Reference)
	assert.Equal(t, "92.13", mismatch.Expected.StringFixed(2))
	assert.Equal(t, "92.00", mismatch.Actual.StringFixed(2))
}

func TestGenerator_RunningBalance(t *testing.T) {
	gen := newGen(t)

	// First base-currency record derives the opening balance.
	_, err := gen.Generate(payment("REF-1", "EUR", "100.00", "-3.50", "96.50", "1972.38"))
	require.NoError(t, err)
	assert.Equal(t, "1875.88", gen.OpeningBalance().StringFixed(2))
	assert.Equal(t, "1972.38", gen.ClosingBalance().StringFixed(2))

	c := payment("REF-2", "EUR", "-771.10", "0.00", "-771.10", "1201.28")
	c.Record.Type = record.TypeWithdrawal
	c.CounterAccount = "2100"
	c.SalesType = record.SalesTypeOther
	_, err = gen.Generate(c)
	require.NoError(t, err)
	assert.Equal(t, "1201.28", gen.ClosingBalance().StringFixed(2))
}

func TestGenerator_BalanceMismatch(t *testing.T) {
	gen := newGen(t)

	_, err := gen.Generate(payment("REF-1", "EUR", "100.00", "0.00", "100.00", "1000.00"))
	require.NoError(t, err)

	// Provider states 1060.13 but 1000.00 + 10.00 is expected.
	p, err := gen.Generate(payment("REF-2", "EUR", "10.00", "0.00", "10.00", "1060.13"))
	require.Error(t, err)
	require.NotNil(t, p, "posting is still produced, the batch decides on review")

	var mismatch BalanceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "REF-2", mismatch.Reference)
	assert.Equal(t, "1010.00", mismatch.Expected.StringFixed(2))
	assert.Equal(t, "1060.13", mismatch.Actual.StringFixed(2))

	// The stated balance is adopted so a single gap does not cascade.
	_, err = gen.Generate(payment("REF-3", "EUR", "5.00", "0.00", "5.00", "1065.13"))
	assert.NoError(t, err)
	assert.Equal(t, "1065.13", gen.ClosingBalance().StringFixed(2))
}

func TestGenerator_ForeignCurrencyRecordsSkipBalanceCheck(t *testing.T) {
	gen := newGen(t)

	_, err := gen.Generate(payment("REF-1", "EUR", "100.00", "0.00", "100.00", "1000.00"))
	require.NoError(t, err)

	c := payment("REF-2", "USD", "50.00", "0.00", "50.00", "999999.99")
	c.SalesType = record.SalesTypeOther
	_, err = gen.Generate(c)
	assert.NoError(t, err)
	assert.Equal(t, "1000.00", gen.ClosingBalance().StringFixed(2))
}

func TestGenerator_ObserveAdvancesBalance(t *testing.T) {
	gen := newGen(t)

	require.NoError(t, gen.Observe(record.ProviderRecord{
		ReferenceID: "DUP-1",
		Currency:    "EUR",
		Net:         decimal.RequireFromString("96.50"),
		Balance:     decimal.RequireFromString("1972.38"),
	}))
	assert.Equal(t, "1875.88", gen.OpeningBalance().StringFixed(2))

	// A booked-elsewhere record still moves the running balance.
	_, err := gen.Generate(payment("REF-2", "EUR", "10.00", "0.00", "10.00", "1982.38"))
	assert.NoError(t, err)
	assert.Equal(t, "1982.38", gen.ClosingBalance().StringFixed(2))
}

func TestNewGenerator_InvalidVATConfig(t *testing.T) {
	task := testTask()
	task.VATPercents = map[string]string{"LOCAL": "not-a-number"}

	_, err := NewGenerator(task, newTestLogger())
	require.Error(t, err)
}
