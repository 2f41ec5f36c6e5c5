// Package ledger merges new batches of categorized transactions into the
// master ledger. Merging is a pure function: the caller replaces whatever it
// persisted with the returned ledger.
package ledger

import (
	"slices"

	"github.com/dvloznov/statement-ledger/internal/domain"
)

// Result is the outcome of a merge.
type Result struct {
	Ledger []domain.Transaction
	// Excluded counts records dropped for an unparseable date or amount.
	Excluded int
}

// ApplyFallback returns a copy of txs with blank categories set to
// domain.FallbackCategory. Applying it twice equals applying it once.
func ApplyFallback(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	for i, t := range txs {
		out[i] = t.WithFallback()
	}
	return out
}

// Merge combines an existing ledger (nil when none was loaded) with a new batch.
//
// The batch gets the category fallback, is appended after existing, and the
// whole is stably sorted by date. Records sharing (date, description, amount)
// collapse to the last one in that order, so a re-merged batch overrides the
// stored category. An empty batch returns existing unchanged.
func Merge(existing, batch []domain.Transaction) Result {
	if len(batch) == 0 {
		return Result{Ledger: slices.Clone(existing)}
	}

	combined := make([]domain.Transaction, 0, len(existing)+len(batch))
	excluded := 0
	for _, t := range existing {
		if !t.Valid() {
			excluded++
			continue
		}
		combined = append(combined, t)
	}
	for _, t := range batch {
		if !t.Valid() {
			excluded++
			continue
		}
		combined = append(combined, t.WithFallback())
	}

	slices.SortStableFunc(combined, compareDate)

	return Result{
		Ledger:   dedupKeepLast(combined),
		Excluded: excluded,
	}
}

// MergeRows parses rows and merges them into existing. Rows that fail
// coercion are dropped and counted in Result.Excluded.
func MergeRows(existing []domain.Transaction, rows []Row) Result {
	batch := make([]domain.Transaction, 0, len(rows))
	malformed := 0
	for _, r := range rows {
		t, err := ParseRow(r)
		if err != nil {
			malformed++
			continue
		}
		batch = append(batch, t)
	}

	res := Merge(existing, batch)
	res.Excluded += malformed
	return res
}

// SourceFiles returns the set of source_file tags present in l.
func SourceFiles(l []domain.Transaction) map[string]bool {
	files := make(map[string]bool)
	for _, t := range l {
		if t.SourceFile != "" {
			files[t.SourceFile] = true
		}
	}
	return files
}

func compareDate(a, b domain.Transaction) int {
	switch {
	case a.Date.Before(b.Date):
		return -1
	case a.Date.After(b.Date):
		return 1
	default:
		return 0
	}
}

// dedupKeepLast keeps the last record per key, at that record's position.
func dedupKeepLast(sorted []domain.Transaction) []domain.Transaction {
	seen := make(map[domain.Key]bool, len(sorted))
	out := make([]domain.Transaction, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		k := sorted[i].Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, sorted[i])
	}
	slices.Reverse(out)
	return out
}
