package export

import (
	"testing"
	"time"

	"github.com/paystream-reconciler/internal/domain/batch"
	"github.com/paystream-reconciler/internal/domain/posting"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedBatch(t *testing.T) (*batch.Batch, []*posting.Posting) {
	t.Helper()

	b := batch.Open("acme-eur",
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString("1875.88"))
	require.NoError(t, b.Seal(decimal.RequireFromString("1201.28")))

	p1 := posting.New(time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC), "Payment Jane Doe (REF-1)", "REF-1")
	p1.AddLine("1100", decimal.RequireFromString("96.50"), "")
	p1.AddLine("4400", decimal.RequireFromString("3.50"), "provider fee")
	p1.AddLine("8000", decimal.RequireFromString("-82.64"), "")
	p1.AddLine("1630", decimal.RequireFromString("-17.36"), "VAT LOCAL")
	require.NoError(t, p1.Validate())

	p2 := posting.New(time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), "Currency conversion (CNV-EUR)", "CNV-USD", "CNV-EUR")
	p2.AddLine("1100", decimal.RequireFromString("92.13"), "")
	p2.AddForeignLine("2100", decimal.RequireFromString("-92.13"),
		decimal.RequireFromString("-100.00"), "USD",
		decimal.RequireFromString("0.9213"), "conversion USD to EUR")
	require.NoError(t, p2.Validate())

	return b, []*posting.Posting{p1, p2}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	b, postings := sealedBatch(t)

	payload, err := Serialize(b, "90", postings)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "<?xml")

	doc, err := Parse(payload)
	require.NoError(t, err)

	assert.Equal(t, "90", doc.Journal)
	assert.Equal(t, "acme-eur", doc.TaskID)
	assert.Equal(t, b.ID.String(), doc.BatchID)
	assert.Equal(t, "1875.88", doc.Opening)
	assert.Equal(t, "1201.28", doc.Closing)

	start, end, err := doc.PeriodOf()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", start.Format("2006-01-02"))
	assert.Equal(t, "2025-03-31", end.Format("2006-01-02"))

	require.Len(t, doc.Transactions, 2)

	tx := doc.Transactions[0]
	assert.Equal(t, postings[0].ID.String(), tx.ID)
	assert.Equal(t, "2025-03-01", tx.Date)
	assert.Equal(t, []string{"REF-1"}, tx.References)
	require.Len(t, tx.Lines, 4)
	assert.Equal(t, "1100", tx.Lines[0].Account)
	assert.Equal(t, "96.50", tx.Lines[0].Amount)

	conv := doc.Transactions[1]
	assert.Equal(t, []string{"CNV-USD", "CNV-EUR"}, conv.References)
	require.Len(t, conv.Lines, 2)
	require.NotNil(t, conv.Lines[1].Foreign)
	assert.Equal(t, "USD", conv.Lines[1].Foreign.Currency)
	assert.Equal(t, "-100.00", conv.Lines[1].Foreign.Value)
	assert.Equal(t, "0.9213", conv.Lines[1].Foreign.Rate)
}

func TestVerifyBalance(t *testing.T) {
	b, postings := sealedBatch(t)
	payload, err := Serialize(b, "90", postings)
	require.NoError(t, err)

	doc, err := Parse(payload)
	require.NoError(t, err)
	assert.NoError(t, VerifyBalance(doc))
}

func TestVerifyBalance_CorruptedDocument(t *testing.T) {
	b, postings := sealedBatch(t)
	payload, err := Serialize(b, "90", postings)
	require.NoError(t, err)

	doc, err := Parse(payload)
	require.NoError(t, err)

	t.Run("tampered amount breaks the balance", func(t *testing.T) {
		doc.Transactions[0].Lines[0].Amount = "97.50"
		err := VerifyBalance(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not balance")
		doc.Transactions[0].Lines[0].Amount = "96.50"
	})

	t.Run("garbage amount is rejected", func(t *testing.T) {
		doc.Transactions[0].Lines[0].Amount = "ninety-six"
		err := VerifyBalance(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid amount")
	})
}

func TestParse_InvalidDocument(t *testing.T) {
	_, err := Parse([]byte("this is not xml"))
	require.Error(t, err)
}
