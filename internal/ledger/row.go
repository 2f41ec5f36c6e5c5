package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Row is a transaction as text, the shape produced by extraction, manual edits
// and workbook cells before any coercion.
type Row struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	SourceFile  string `json:"source_file"`
}

var (
	// ErrInvalidDate is returned by ParseRow when the date matches no known layout.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidAmount is returned by ParseRow when the amount is not numeric.
	ErrInvalidAmount = errors.New("invalid amount")
)

// dateLayouts are tried in order; any time component is discarded.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"02-Jan-2006",
}

// ParseDate parses a statement date, dropping any time of day.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// ParseAmount parses a signed amount. Currency symbols, spaces and thousands
// separators are ignored; "(4.50)" is read as -4.50.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		negative = true
		clean = clean[1 : len(clean)-1]
	}
	clean = strings.NewReplacer(",", "", " ", "", "$", "", "£", "", "€", "").Replace(clean)
	clean = strings.TrimPrefix(clean, "+")
	if clean == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseRow coerces r into a Transaction. The category is trimmed but not
// defaulted; the fallback belongs to Merge.
func ParseRow(r Row) (domain.Transaction, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return domain.Transaction{}, err
	}
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		Date:        date,
		Description: r.Description,
		Amount:      amount,
		Category:    strings.TrimSpace(r.Category),
		SourceFile:  r.SourceFile,
	}, nil
}

// RowOf renders t back into its text shape.
func RowOf(t domain.Transaction) Row {
	return Row{
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      t.Amount.String(),
		Category:    t.Category,
		SourceFile:  t.SourceFile,
	}
}
