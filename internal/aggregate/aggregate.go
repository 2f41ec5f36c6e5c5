// Package aggregate derives the dashboard views from a ledger: the
// month-by-category pivot, totals, headline metrics and budget comparison.
// Views are recomputed in full on every call and never persisted separately.
package aggregate

import (
	"slices"
	"sort"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Views is everything derived from one ledger snapshot.
//
// Pivot[i][j] is the signed sum of amounts for Months[i] and Categories[j];
// every pair is present, zero when no records match. Months are ascending and
// Categories alphabetical.
type Views struct {
	Months     []domain.MonthBucket
	Categories []string
	Pivot      [][]decimal.Decimal

	MonthTotals    []decimal.Decimal
	CategoryTotals []decimal.Decimal
	Total          decimal.Decimal

	// AveragePerMonth is Total over the number of distinct months, zero for an empty ledger.
	AveragePerMonth decimal.Decimal
	// TopCategory has the largest spend (negated sum). Ties go to the
	// alphabetically first category. Empty when the ledger is empty.
	TopCategory      string
	TopCategorySpend decimal.Decimal

	Budget []BudgetRow
}

// BudgetRow compares one category's monthly spend to its threshold.
// Actual and Over are indexed like Views.Months.
type BudgetRow struct {
	Category  string
	Threshold decimal.Decimal
	Actual    []decimal.Decimal
	Over      []bool
}

// Aggregate computes the views for l. Categories with a budget but no
// records still get a budget row.
func Aggregate(l []domain.Transaction, budgets domain.Budgets) *Views {
	monthSet := make(map[domain.MonthBucket]bool)
	catSet := make(map[string]bool)
	for _, t := range l {
		monthSet[t.Month()] = true
		catSet[domain.NormalizeCategory(t.Category)] = true
	}

	v := &Views{
		Months:     sortedMonths(monthSet),
		Categories: sortedKeys(catSet),
	}

	monthIdx := make(map[domain.MonthBucket]int, len(v.Months))
	for i, m := range v.Months {
		monthIdx[m] = i
	}
	catIdx := make(map[string]int, len(v.Categories))
	for j, c := range v.Categories {
		catIdx[c] = j
	}

	v.Pivot = make([][]decimal.Decimal, len(v.Months))
	for i := range v.Pivot {
		v.Pivot[i] = zeros(len(v.Categories))
	}
	for _, t := range l {
		i := monthIdx[t.Month()]
		j := catIdx[domain.NormalizeCategory(t.Category)]
		v.Pivot[i][j] = v.Pivot[i][j].Add(t.Amount)
	}

	v.MonthTotals = zeros(len(v.Months))
	v.CategoryTotals = zeros(len(v.Categories))
	v.Total = decimal.Zero
	for i := range v.Months {
		for j := range v.Categories {
			cell := v.Pivot[i][j]
			v.MonthTotals[i] = v.MonthTotals[i].Add(cell)
			v.CategoryTotals[j] = v.CategoryTotals[j].Add(cell)
			v.Total = v.Total.Add(cell)
		}
	}

	v.AveragePerMonth = decimal.Zero
	if n := len(v.Months); n > 0 {
		v.AveragePerMonth = v.Total.Div(decimal.NewFromInt(int64(n)))
	}

	v.TopCategorySpend = decimal.Zero
	for j, c := range v.Categories {
		spend := v.CategoryTotals[j].Neg()
		if v.TopCategory == "" || spend.GreaterThan(v.TopCategorySpend) {
			v.TopCategory = c
			v.TopCategorySpend = spend
		}
	}

	v.Budget = budgetRows(v, budgets)
	return v
}

// Cell returns the pivot value for month m and category c, zero if either is absent.
func (v *Views) Cell(m domain.MonthBucket, c string) decimal.Decimal {
	i := slices.Index(v.Months, m)
	j := slices.Index(v.Categories, c)
	if i < 0 || j < 0 {
		return decimal.Zero
	}
	return v.Pivot[i][j]
}

// Spend returns the pivot value for month index i and category index j as a
// positive spend figure.
func (v *Views) Spend(i, j int) decimal.Decimal {
	return v.Pivot[i][j].Neg()
}

func budgetRows(v *Views, budgets domain.Budgets) []BudgetRow {
	names := slices.Clone(v.Categories)
	for c := range budgets {
		if !slices.Contains(names, c) {
			names = append(names, c)
		}
	}
	sort.Strings(names)

	rows := make([]BudgetRow, 0, len(names))
	for _, c := range names {
		threshold := budgets.Threshold(c)
		row := BudgetRow{
			Category:  c,
			Threshold: threshold,
			Actual:    make([]decimal.Decimal, len(v.Months)),
			Over:      make([]bool, len(v.Months)),
		}
		j := slices.Index(v.Categories, c)
		for i := range v.Months {
			spend := decimal.Zero
			if j >= 0 {
				spend = v.Spend(i, j)
			}
			row.Actual[i] = spend
			row.Over[i] = threshold.IsPositive() && spend.GreaterThan(threshold)
		}
		rows = append(rows, row)
	}
	return rows
}

func sortedMonths(set map[domain.MonthBucket]bool) []domain.MonthBucket {
	months := make([]domain.MonthBucket, 0, len(set))
	for m := range set {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}
