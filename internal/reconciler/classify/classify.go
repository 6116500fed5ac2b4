// Package classify assigns ledger accounts and VAT treatment to grouped
// provider records. Classifiers are small pluggable rules resolved by name
// from task configuration; the account-mapping classifier is the terminal
// rule and claims every record it recognizes the type of.
package classify

import (
	"fmt"
	"strings"

	"github.com/paystream-reconciler/internal/config"
	"github.com/paystream-reconciler/internal/domain/record"
)

// UnknownClassificationError reports a record no classifier claimed.
// The record books to the suspense account and counts as a batch error.
type UnknownClassificationError struct {
	ReferenceID string
	Type        record.Type
}

func (e UnknownClassificationError) Error() string {
	return fmt.Sprintf("no classifier claimed record %s of type %s", e.ReferenceID, e.Type)
}

// Is implements the errors.Is interface for UnknownClassificationError
func (e UnknownClassificationError) Is(target error) bool {
	t, ok := target.(UnknownClassificationError)
	if !ok {
		return false
	}
	return t.ReferenceID == "" || e.ReferenceID == t.ReferenceID
}

// Context carries the per-task settings a classifier may consult
type Context struct {
	HomeCountry string
	Accounts    config.AccountMapping
}

// Result is a classifier's verdict for one record
type Result struct {
	Account        string
	CounterAccount string
	SalesType      record.SalesType
}

// Classifier inspects one record and either claims it with a Result or
// declines so the next rule in the chain can try
type Classifier interface {
	Name() string
	Classify(rec record.ProviderRecord, tctx Context) (Result, bool)
}

// Chain runs classifiers in order; the first claiming rule wins
type Chain struct {
	classifiers []Classifier
}

// NewChain builds a chain from the named classifiers followed by the
// terminal account-mapping rule. An unknown name fails task startup.
func NewChain(task *config.Task) (*Chain, error) {
	var classifiers []Classifier
	if task.ClassifierName != "" {
		factory, ok := registry[task.ClassifierName]
		if !ok {
			return nil, fmt.Errorf("unknown classifier %q", task.ClassifierName)
		}
		c, err := factory(task.ClassifierConfig)
		if err != nil {
			return nil, fmt.Errorf("classifier %q: %w", task.ClassifierName, err)
		}
		classifiers = append(classifiers, c)
	}
	classifiers = append(classifiers, &mappingClassifier{})
	return &Chain{classifiers: classifiers}, nil
}

// Classify resolves accounts for one grouped record. A record nothing claims
// comes back with an UnknownClassificationError and must not book.
func (c *Chain) Classify(g record.Grouped, tctx Context) (record.ClassifiedRecord, error) {
	for _, cl := range c.classifiers {
		if res, ok := cl.Classify(g.Record, tctx); ok {
			return record.ClassifiedRecord{
				Record:         g.Record,
				Group:          g.Group,
				Account:        res.Account,
				CounterAccount: res.CounterAccount,
				SalesType:      res.SalesType,
				Classifier:     cl.Name(),
			}, nil
		}
	}
	return record.ClassifiedRecord{
		Record:    g.Record,
		Group:     g.Group,
		SalesType: record.SalesTypeUnknown,
	}, UnknownClassificationError{ReferenceID: g.Record.ReferenceID, Type: g.Record.Type}
}

// Factory builds a classifier from its task-level configuration
type Factory func(cfg map[string]string) (Classifier, error)

var registry = map[string]Factory{
	"debtor-email": newDebtorEmailClassifier,
}

// Register adds a classifier factory under a name. Registering an existing
// name replaces the previous factory.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// euCountries is the ISO 3166-1 alpha-2 set of EU member states
var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
}

// SalesTypeForCountry derives VAT treatment from the counterparty country
func SalesTypeForCountry(country, homeCountry string) record.SalesType {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch {
	case country == "":
		return record.SalesTypeUnknown
	case country == strings.ToUpper(homeCountry):
		return record.SalesTypeLocal
	case euCountries[country]:
		return record.SalesTypeEUPrivate
	default:
		return record.SalesTypeOther
	}
}

// mappingClassifier is the terminal rule: it books every known record type
// to the task's configured accounts
type mappingClassifier struct{}

func (m *mappingClassifier) Name() string { return "account-mapping" }

func (m *mappingClassifier) Classify(rec record.ProviderRecord, tctx Context) (Result, bool) {
	switch rec.Type {
	case record.TypePayment:
		return Result{
			Account:        tctx.Accounts.PP,
			CounterAccount: tctx.Accounts.Ledger,
			SalesType:      SalesTypeForCountry(rec.CounterpartyCountry, tctx.HomeCountry),
		}, true
	case record.TypeRefund:
		counter := tctx.Accounts.Ledger
		if tctx.Accounts.Debtors != "" {
			counter = tctx.Accounts.Debtors
		}
		return Result{
			Account:        tctx.Accounts.PP,
			CounterAccount: counter,
			SalesType:      SalesTypeForCountry(rec.CounterpartyCountry, tctx.HomeCountry),
		}, true
	case record.TypeFee:
		return Result{
			Account:        tctx.Accounts.PP,
			CounterAccount: tctx.Accounts.Costs,
			SalesType:      record.SalesTypeOther,
		}, true
	case record.TypeConversion:
		return Result{
			Account:        tctx.Accounts.PP,
			CounterAccount: tctx.Accounts.Kruispost,
			SalesType:      record.SalesTypeOther,
		}, true
	case record.TypeWithdrawal:
		counter := tctx.Accounts.Kruispost
		if tctx.Accounts.Creditors != "" {
			counter = tctx.Accounts.Creditors
		}
		return Result{
			Account:        tctx.Accounts.PP,
			CounterAccount: counter,
			SalesType:      record.SalesTypeOther,
		}, true
	}
	return Result{}, false
}
