// Package resolver assigns one category from an allowed set to a transaction
// description. Resolvers are total: any failure degrades to
// domain.FallbackCategory instead of an error.
package resolver

import (
	"context"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/logger"
)

// Resolver picks a category for description. The result is always a member
// of set or domain.FallbackCategory.
type Resolver interface {
	Resolve(ctx context.Context, description string, set domain.CategorySet) string
}

// Func adapts an ordinary function to Resolver.
type Func func(ctx context.Context, description string, set domain.CategorySet) string

// Resolve calls f and enforces set membership on its answer.
func (f Func) Resolve(ctx context.Context, description string, set domain.CategorySet) string {
	return Constrain(f(ctx, description, set), set)
}

// Constrain maps an arbitrary answer onto set. Surrounding quotes, a trailing
// period and letter case are forgiven; anything else becomes the fallback.
func Constrain(answer string, set domain.CategorySet) string {
	a := strings.TrimSpace(answer)
	a = strings.Trim(a, "\"'`*")
	a = strings.TrimSuffix(a, ".")
	a = strings.TrimSpace(a)
	if set.Contains(a) {
		return a
	}
	if c, ok := set.Lookup(a); ok {
		return c
	}
	return domain.FallbackCategory
}

// Rule maps descriptions containing Keyword (case-insensitive) to Category.
type Rule struct {
	Keyword  string `yaml:"keyword" json:"keyword"`
	Category string `yaml:"category" json:"category"`
}

// Chain consults keyword rules before falling through to next.
type Chain struct {
	rules []Rule
	next  Resolver
}

// WithRules returns a resolver that applies rules first. Rules whose category
// is not in the set at resolution time are skipped. next may be nil, in which
// case unmatched descriptions get the fallback.
func WithRules(rules []Rule, next Resolver) *Chain {
	return &Chain{rules: rules, next: next}
}

// Local is implemented by resolvers that can answer some descriptions
// without a remote call. ok is false when only the remote call can answer.
type Local interface {
	ResolveLocal(ctx context.Context, description string, set domain.CategorySet) (category string, ok bool)
}

// ResolveLocal answers from the rules, or with the fallback when there is no
// next resolver.
func (c *Chain) ResolveLocal(ctx context.Context, description string, set domain.CategorySet) (string, bool) {
	lower := strings.ToLower(description)
	for _, r := range c.rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" || !strings.Contains(lower, kw) {
			continue
		}
		if cat, ok := set.Lookup(r.Category); ok {
			log := logger.FromContext(ctx)
			log.Debug().
				Str("description", description).
				Str("keyword", r.Keyword).
				Str("category", cat).
				Msg("resolved by rule")
			return cat, true
		}
	}
	if c.next == nil {
		return domain.FallbackCategory, true
	}
	return "", false
}

// Resolve implements Resolver.
func (c *Chain) Resolve(ctx context.Context, description string, set domain.CategorySet) string {
	if cat, ok := c.ResolveLocal(ctx, description, set); ok {
		return cat
	}
	return c.next.Resolve(ctx, description, set)
}

var _ Local = (*Chain)(nil)
