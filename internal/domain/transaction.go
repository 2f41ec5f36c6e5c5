package domain

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// FallbackCategory is substituted whenever a category is blank, missing or invalid.
const FallbackCategory = "Other"

// Transaction is one categorized bank-statement line as it lives in the ledger.
// Amounts keep the statement sign: negative is spend, positive is credit or income.
type Transaction struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	SourceFile  string          `json:"source_file"`
}

// Key identifies a transaction for de-duplication.
// Amount is the canonical decimal string so -4.5 and -4.50 collide.
type Key struct {
	Date        civil.Date
	Description string
	Amount      string
}

// Key returns the de-duplication key of t.
func (t Transaction) Key() Key {
	return Key{
		Date:        t.Date,
		Description: t.Description,
		Amount:      t.Amount.String(),
	}
}

// Month returns the bucket t belongs to.
func (t Transaction) Month() MonthBucket {
	return MonthOf(t.Date)
}

// Valid reports whether t can enter the ledger.
func (t Transaction) Valid() bool {
	return t.Date.IsValid()
}

// WithFallback returns t with a blank category replaced by FallbackCategory.
func (t Transaction) WithFallback() Transaction {
	t.Category = NormalizeCategory(t.Category)
	return t
}

// NormalizeCategory trims a category and substitutes the fallback for blanks.
func NormalizeCategory(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		return FallbackCategory
	}
	return c
}
