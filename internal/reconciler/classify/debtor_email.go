package classify

import (
	"errors"
	"strings"

	"github.com/paystream-reconciler/internal/domain/record"
)

// debtorEmailClassifier routes payments from known counterparty emails to a
// dedicated debtor account. Intercompany debtors book without VAT.
type debtorEmailClassifier struct {
	accounts map[string]string // lower-cased email -> debtor account
	icp      map[string]bool   // lower-cased email -> intra-community
}

func newDebtorEmailClassifier(cfg map[string]string) (Classifier, error) {
	if len(cfg) == 0 {
		return nil, errors.New("debtor-email classifier needs at least one email mapping")
	}
	c := &debtorEmailClassifier{
		accounts: make(map[string]string, len(cfg)),
		icp:      make(map[string]bool),
	}
	for email, account := range cfg {
		account = strings.TrimSpace(account)
		// An "icp:" prefix marks the debtor as an intra-community partner.
		if rest, ok := strings.CutPrefix(account, "icp:"); ok {
			account = strings.TrimSpace(rest)
			c.icp[strings.ToLower(email)] = true
		}
		if account == "" {
			return nil, errors.New("debtor-email classifier: empty account for " + email)
		}
		c.accounts[strings.ToLower(email)] = account
	}
	return c, nil
}

func (c *debtorEmailClassifier) Name() string { return "debtor-email" }

func (c *debtorEmailClassifier) Classify(rec record.ProviderRecord, tctx Context) (Result, bool) {
	if rec.Type != record.TypePayment && rec.Type != record.TypeRefund {
		return Result{}, false
	}
	email := strings.ToLower(strings.TrimSpace(rec.CounterpartyEmail))
	account, ok := c.accounts[email]
	if !ok {
		return Result{}, false
	}
	salesType := SalesTypeForCountry(rec.CounterpartyCountry, tctx.HomeCountry)
	if c.icp[email] {
		salesType = record.SalesTypeEUICP
	}
	return Result{
		Account:        tctx.Accounts.PP,
		CounterAccount: account,
		SalesType:      salesType,
	}, true
}
