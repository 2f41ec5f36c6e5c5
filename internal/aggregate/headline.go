package aggregate

import (
	"sort"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Headline is the dashboard summary strip.
type Headline struct {
	TotalSpend       decimal.Decimal `json:"total_spend"`
	Net              decimal.Decimal `json:"net"`
	AveragePerMonth  decimal.Decimal `json:"average_per_month"`
	TopCategory      string          `json:"top_category"`
	TopCategorySpend decimal.Decimal `json:"top_category_spend"`
	Months           int             `json:"months"`
	Transactions     int             `json:"transactions"`
}

// Share is one category's slice of total spend.
type Share struct {
	Category string          `json:"category"`
	Spend    decimal.Decimal `json:"spend"`
	// Percent of total spend, rounded to one decimal place.
	Percent decimal.Decimal `json:"percent"`
}

// MonthPoint is one point of the month-over-month series.
type MonthPoint struct {
	Month string          `json:"month"`
	Spend decimal.Decimal `json:"spend"`
}

// Headline summarises v. count is the number of ledger records behind it.
func (v *Views) Headline(count int) Headline {
	return Headline{
		TotalSpend:       v.Total.Neg(),
		Net:              v.Total,
		AveragePerMonth:  v.AveragePerMonth.Neg().Round(2),
		TopCategory:      v.TopCategory,
		TopCategorySpend: v.TopCategorySpend,
		Months:           len(v.Months),
		Transactions:     count,
	}
}

// Breakdown lists categories with positive spend, largest first.
func (v *Views) Breakdown() []Share {
	total := decimal.Zero
	for j := range v.Categories {
		if s := v.CategoryTotals[j].Neg(); s.IsPositive() {
			total = total.Add(s)
		}
	}

	var shares []Share
	for j, c := range v.Categories {
		s := v.CategoryTotals[j].Neg()
		if !s.IsPositive() {
			continue
		}
		shares = append(shares, Share{
			Category: c,
			Spend:    s,
			Percent:  s.Div(total).Mul(decimal.NewFromInt(100)).Round(1),
		})
	}
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].Spend.GreaterThan(shares[b].Spend)
	})
	return shares
}

// Heartbeat returns spend per month in ascending month order.
func (v *Views) Heartbeat() []MonthPoint {
	points := make([]MonthPoint, len(v.Months))
	for i, m := range v.Months {
		points[i] = MonthPoint{Month: m.Label(), Spend: v.MonthTotals[i].Neg()}
	}
	return points
}

// MonthRecords returns the records of l that fall in m, in ledger order.
func MonthRecords(l []domain.Transaction, m domain.MonthBucket) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range l {
		if t.Month() == m {
			out = append(out, t)
		}
	}
	return out
}
