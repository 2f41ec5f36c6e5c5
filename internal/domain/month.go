package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

const monthLabelLayout = "January 2006"

// MonthBucket groups transactions by calendar month.
type MonthBucket struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// MonthOf returns the bucket containing d.
func MonthOf(d civil.Date) MonthBucket {
	return MonthBucket{Year: d.Year, Month: d.Month}
}

// Label renders the bucket the way sheets and dashboards show it, e.g. "November 2025".
func (m MonthBucket) Label() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format(monthLabelLayout)
}

func (m MonthBucket) String() string {
	return m.Label()
}

// Before reports whether m is earlier than o.
func (m MonthBucket) Before(o MonthBucket) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// ParseMonthLabel parses a label produced by Label.
func ParseMonthLabel(s string) (MonthBucket, error) {
	t, err := time.Parse(monthLabelLayout, s)
	if err != nil {
		return MonthBucket{}, fmt.Errorf("parse month label %q: %w", s, err)
	}
	return MonthBucket{Year: t.Year(), Month: t.Month()}, nil
}
