package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CategorySet is the operator's ordered list of legal categories.
// Build it with NewCategorySet so blanks and duplicates are gone.
type CategorySet []string

// NewCategorySet trims names and drops blanks and repeats, keeping first-seen order.
func NewCategorySet(names []string) CategorySet {
	seen := make(map[string]bool, len(names))
	set := make(CategorySet, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		set = append(set, n)
	}
	return set
}

// ParseCategoryList builds a set from newline-separated text, one category per line.
func ParseCategoryList(text string) CategorySet {
	return NewCategorySet(strings.Split(text, "\n"))
}

// Contains reports whether name is a member of the set (exact match).
func (s CategorySet) Contains(name string) bool {
	for _, c := range s {
		if c == name {
			return true
		}
	}
	return false
}

// Lookup finds the member matching name ignoring case and surrounding space.
func (s CategorySet) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if s.Contains(name) {
		return name, true
	}
	for _, c := range s {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// Strings returns a copy of the members.
func (s CategorySet) Strings() []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Budgets maps a category to its monthly spend threshold. Zero or absent means no alarm.
type Budgets map[string]decimal.Decimal

// Threshold returns the budget for category, zero when unset.
func (b Budgets) Threshold(category string) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	if v, ok := b[category]; ok {
		return v
	}
	return decimal.Zero
}
