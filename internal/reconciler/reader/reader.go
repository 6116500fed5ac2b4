// Package reader parses raw provider export rows into typed ProviderRecords.
// Parsing is a pure transform: ordering is preserved (later stages rely on it
// for leg pairing and running-balance verification) and the only way to
// restart the sequence is to re-read the source.
package reader

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/paystream-reconciler/internal/domain/record"
	"github.com/shopspring/decimal"
)

// Schema maps export columns to record fields. Optional columns are marked
// with -1. TypeLabels translates the provider's type labels to canonical
// record types; unmapped labels pass through upper-cased so classification
// can reject them per record instead of failing the parse.
type Schema struct {
	ReferenceID             int
	CounterpartyReferenceID int
	Timestamp               int
	Type                    int
	Currency                int
	Gross                   int
	Fee                     int
	Net                     int
	Balance                 int
	CounterpartyName        int
	CounterpartyEmail       int
	CounterpartyCountry     int
	TimeLayout              string
	HasHeader               bool
	TypeLabels              map[string]record.Type
}

// DefaultSchema matches the provider's standard export layout
func DefaultSchema() Schema {
	return Schema{
		Timestamp:               0,
		Type:                    1,
		Currency:                2,
		Gross:                   3,
		Fee:                     4,
		Net:                     5,
		Balance:                 6,
		ReferenceID:             7,
		CounterpartyReferenceID: 8,
		CounterpartyName:        9,
		CounterpartyEmail:       10,
		CounterpartyCountry:     11,
		TimeLayout:              "2006-01-02 15:04:05",
		HasHeader:               true,
		TypeLabels: map[string]record.Type{
			"Payment":             record.TypePayment,
			"Refund":              record.TypeRefund,
			"Fee":                 record.TypeFee,
			"Currency conversion": record.TypeConversion,
			"Withdrawal":          record.TypeWithdrawal,
		},
	}
}

// maxIndex returns the highest required column index
func (s Schema) maxIndex() int {
	max := s.ReferenceID
	for _, idx := range []int{s.CounterpartyReferenceID, s.Timestamp, s.Type, s.Currency, s.Gross, s.Fee, s.Net, s.Balance} {
		if idx > max {
			max = idx
		}
	}
	return max
}

// MalformedRowError names the row index and offending field of an export row
// that cannot be parsed. The row is skipped; parsing continues.
type MalformedRowError struct {
	Row   int // 1-based data row index
	Field string
	Value string
}

func (e MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row %d: field %s: invalid value %q", e.Row, e.Field, e.Value)
}

// Is implements the errors.Is interface for MalformedRowError
func (e MalformedRowError) Is(target error) bool {
	t, ok := target.(MalformedRowError)
	if !ok {
		return false
	}
	if t.Row == 0 && t.Field == "" {
		return true
	}
	return e.Row == t.Row && (t.Field == "" || e.Field == t.Field)
}

// Reader parses provider exports according to a fixed column schema
type Reader struct {
	schema Schema
	logger *slog.Logger
}

// New creates a reader for the given schema
func New(schema Schema, logger *slog.Logger) *Reader {
	return &Reader{
		schema: schema,
		logger: logger,
	}
}

// Rows is a lazy cursor over one export source
type Rows struct {
	reader *Reader
	csv    *csv.Reader
	row    int
	header bool
}

// Rows starts a lazy parse of the source
func (r *Reader) Rows(src io.Reader) *Rows {
	c := csv.NewReader(src)
	c.FieldsPerRecord = -1 // Row width is validated against the schema instead
	return &Rows{
		reader: r,
		csv:    c,
		header: r.schema.HasHeader,
	}
}

// ReadAll drains the source, skipping malformed rows and collecting their
// errors so the caller can report them as batch errors
func (r *Reader) ReadAll(src io.Reader) ([]record.ProviderRecord, []error) {
	rows := r.Rows(src)
	var records []record.ProviderRecord
	var errs []error
	for {
		rec, err := rows.Next()
		if err == io.EOF {
			return records, errs
		}
		if err != nil {
			r.logger.Warn("Skipping malformed export row", "error", err)
			errs = append(errs, err)
			continue
		}
		records = append(records, *rec)
	}
}

// Next returns the next record, a MalformedRowError for an unparseable row,
// or io.EOF when the source is exhausted
func (rs *Rows) Next() (*record.ProviderRecord, error) {
	for {
		fields, err := rs.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			rs.row++
			return nil, MalformedRowError{Row: rs.row, Field: "row", Value: err.Error()}
		}
		if rs.header {
			rs.header = false
			continue
		}
		rs.row++
		return rs.parse(fields)
	}
}

func (rs *Rows) parse(fields []string) (*record.ProviderRecord, error) {
	s := rs.reader.schema
	if len(fields) <= s.maxIndex() {
		return nil, MalformedRowError{Row: rs.row, Field: "row", Value: fmt.Sprintf("%d columns, need %d", len(fields), s.maxIndex()+1)}
	}

	ts, err := time.Parse(s.TimeLayout, strings.TrimSpace(fields[s.Timestamp]))
	if err != nil {
		return nil, MalformedRowError{Row: rs.row, Field: "timestamp", Value: fields[s.Timestamp]}
	}

	gross, err := rs.money(fields, s.Gross, "gross", false)
	if err != nil {
		return nil, err
	}
	fee, err := rs.money(fields, s.Fee, "fee", true)
	if err != nil {
		return nil, err
	}
	net, err := rs.money(fields, s.Net, "net", false)
	if err != nil {
		return nil, err
	}
	balance, err := rs.money(fields, s.Balance, "balance", false)
	if err != nil {
		return nil, err
	}

	rec := record.ProviderRecord{
		ReferenceID:             strings.TrimSpace(fields[s.ReferenceID]),
		CounterpartyReferenceID: strings.TrimSpace(fields[s.CounterpartyReferenceID]),
		Timestamp:               ts,
		Type:                    rs.recordType(fields[s.Type]),
		Currency:                strings.ToUpper(strings.TrimSpace(fields[s.Currency])),
		Gross:                   gross,
		Fee:                     fee,
		Net:                     net,
		Balance:                 balance,
	}
	if rec.ReferenceID == "" {
		return nil, MalformedRowError{Row: rs.row, Field: "reference_id", Value: ""}
	}

	rec.CounterpartyName = rs.optional(fields, s.CounterpartyName)
	rec.CounterpartyEmail = rs.optional(fields, s.CounterpartyEmail)
	rec.CounterpartyCountry = strings.ToUpper(rs.optional(fields, s.CounterpartyCountry))

	return &rec, nil
}

// money parses an exact fixed-point decimal; empty optional fields are zero
func (rs *Rows) money(fields []string, idx int, name string, optional bool) (decimal.Decimal, error) {
	raw := strings.TrimSpace(fields[idx])
	// Exports write thousands separators into monetary columns.
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		if optional {
			return decimal.Zero, nil
		}
		return decimal.Zero, MalformedRowError{Row: rs.row, Field: name, Value: ""}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, MalformedRowError{Row: rs.row, Field: name, Value: fields[idx]}
	}
	return d, nil
}

func (rs *Rows) recordType(label string) record.Type {
	label = strings.TrimSpace(label)
	if t, ok := rs.reader.schema.TypeLabels[label]; ok {
		return t
	}
	return record.Type(strings.ToUpper(strings.ReplaceAll(label, " ", "_")))
}

func (rs *Rows) optional(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}
