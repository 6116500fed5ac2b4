package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// AccountMapping holds the GL account codes a task books against
type AccountMapping struct {
	Ledger    string `mapstructure:"ledger"`    // Revenue/turnover account
	Costs     string `mapstructure:"costs"`     // Provider fee account
	PP        string `mapstructure:"pp"`        // Provider settlement account
	Debtors   string `mapstructure:"debtors"`   // Accounts receivable
	Creditors string `mapstructure:"creditors"` // Accounts payable
	Kruispost string `mapstructure:"kruispost"` // Clearing/rounding suspense account
	VAT       string `mapstructure:"vat"`       // VAT payable account
}

// Task is the per-task booking definition loaded from the tasks YAML file
type Task struct {
	ID               string            `mapstructure:"id"`
	InputPath        string            `mapstructure:"input_path"`
	BaseCurrency     string            `mapstructure:"base_currency"`
	HomeCountry      string            `mapstructure:"home_country"`
	Journal          string            `mapstructure:"journal"`
	Accounts         AccountMapping    `mapstructure:"accounts"`
	VATPercents      map[string]string `mapstructure:"vat_percent_by_saletype"`
	ClassifierName   string            `mapstructure:"classifier"`
	ClassifierConfig map[string]string `mapstructure:"classifier_config"`
}

// VATRates parses the configured VAT percentages into exact decimals,
// keyed by sales type name as used in the YAML file
func (t *Task) VATRates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(t.VATPercents))
	for saleType, pct := range t.VATPercents {
		rate, err := decimal.NewFromString(pct)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid VAT percent %q for sales type %s: %w", t.ID, pct, saleType, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("task %s: negative VAT percent for sales type %s", t.ID, saleType)
		}
		rates[saleType] = rate
	}
	return rates, nil
}

// validate checks the structural requirements of a single task definition
func (t *Task) validate() error {
	var problems []string

	if t.ID == "" {
		problems = append(problems, "id is required")
	}
	if t.BaseCurrency == "" || len(t.BaseCurrency) != 3 {
		problems = append(problems, "base_currency must be a 3-letter code")
	}
	if t.Accounts.Ledger == "" {
		problems = append(problems, "accounts.ledger is required")
	}
	if t.Accounts.Costs == "" {
		problems = append(problems, "accounts.costs is required")
	}
	if t.Accounts.PP == "" {
		problems = append(problems, "accounts.pp is required")
	}
	if _, err := t.VATRates(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("task %q: %s", t.ID, strings.Join(problems, ", "))
	}
	return nil
}

// LoadTasks reads the task definitions from a YAML file. Duplicate task ids
// and structurally invalid tasks fail loading, before any batch is opened.
func LoadTasks(path string) ([]Task, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read tasks file %s: %w", path, err)
	}

	var tasks []Task
	if err := v.UnmarshalKey("tasks", &tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tasks from %s: %w", path, err)
	}
	if len(tasks) == 0 {
		return nil, errors.New("tasks file defines no tasks")
	}

	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		if err := tasks[i].validate(); err != nil {
			return nil, err
		}
		if seen[tasks[i].ID] {
			return nil, fmt.Errorf("duplicate task id: %s", tasks[i].ID)
		}
		seen[tasks[i].ID] = true
	}

	return tasks, nil
}
