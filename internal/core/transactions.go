package core

import (
	"strings"
	"time"
)

// SavingsCategory marks transactions that are transfers into savings rather
// than consumption; they are excluded from actual spend.
const SavingsCategory = "savings"

// Transaction is a single categorized spend submitted in place of
// pre-aggregated totals.
type Transaction struct {
	Amount   int64
	Category string
	Date     time.Time
}

func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return Wrapf(ErrInvalidInput, "transaction amount must be positive")
	}
	if strings.TrimSpace(t.Category) == "" {
		return Wrapf(ErrInvalidInput, "transaction category must be set")
	}
	return nil
}

// SplitSpending aggregates a month's transactions into the (actual, impulse)
// totals the record store accepts. Savings transfers are excluded from the
// actual total; a transaction counts as impulse when its category is in the
// impulse set. Savings-categorized transactions never count as impulse.
func SplitSpending(txs []Transaction, impulseCategories map[string]bool) (actual, impulse int64, err error) {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return 0, 0, err
		}
		cat := strings.ToLower(strings.TrimSpace(tx.Category))
		if cat == SavingsCategory {
			continue
		}
		if actual, err = AddChecked(actual, tx.Amount); err != nil {
			return 0, 0, err
		}
		if impulseCategories[cat] {
			if impulse, err = AddChecked(impulse, tx.Amount); err != nil {
				return 0, 0, err
			}
		}
	}
	return actual, impulse, nil
}

// DefaultImpulseCategories is the seed impulse classification.
func DefaultImpulseCategories() map[string]bool {
	return map[string]bool{
		"food":     true,
		"shopping": true,
		"travel":   true,
	}
}
