package tracker

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-ledger/internal/aggregate"
	"github.com/shopspring/decimal"
)

// Dashboard is the JSON view of the current workbook.
type Dashboard struct {
	Headline   aggregate.Headline     `json:"headline"`
	Breakdown  []aggregate.Share      `json:"breakdown"`
	Heartbeat  []aggregate.MonthPoint `json:"heartbeat"`
	Months     []string               `json:"months"`
	Categories []string               `json:"categories"`
	// Spend[i][j] is the spend for Months[i] and Categories[j].
	Spend  [][]decimal.Decimal `json:"spend"`
	Budget []BudgetLine        `json:"budget"`
	// Warning explains a fallback, e.g. an unreadable workbook.
	Warning  string `json:"warning,omitempty"`
	Excluded int    `json:"excluded,omitempty"`
}

// BudgetLine is one category of the budget comparison.
type BudgetLine struct {
	Category  string            `json:"category"`
	Threshold decimal.Decimal   `json:"threshold"`
	Actual    []decimal.Decimal `json:"actual"`
	Over      []bool            `json:"over"`
}

// Dashboard aggregates the stored ledger.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	loaded, err := s.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("Dashboard: %w", err)
	}

	v := aggregate.Aggregate(loaded.Ledger, s.budgets)
	d := &Dashboard{
		Headline:   v.Headline(len(loaded.Ledger)),
		Breakdown:  v.Breakdown(),
		Heartbeat:  v.Heartbeat(),
		Categories: v.Categories,
		Spend:      make([][]decimal.Decimal, len(v.Months)),
		Excluded:   loaded.Excluded,
	}
	for i, m := range v.Months {
		d.Months = append(d.Months, m.Label())
		d.Spend[i] = make([]decimal.Decimal, len(v.Categories))
		for j := range v.Categories {
			d.Spend[i][j] = v.Spend(i, j)
		}
	}
	for _, b := range v.Budget {
		d.Budget = append(d.Budget, BudgetLine{
			Category:  b.Category,
			Threshold: b.Threshold,
			Actual:    b.Actual,
			Over:      b.Over,
		})
	}
	if loaded.Corrupt != nil {
		d.Warning = fmt.Sprintf("workbook at %s could not be read; showing an empty ledger", s.location)
	}
	return d, nil
}
