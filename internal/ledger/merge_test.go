package ledger

import (
	"reflect"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func tx(date, desc, amount, category string) domain.Transaction {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return domain.Transaction{
		Date:        d,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Category:    category,
	}
}

func TestMerge_EmptyBatchIsIdentity(t *testing.T) {
	existing := []domain.Transaction{
		tx("2025-11-01", "Cafe", "-4.50", "Food"),
		tx("2025-10-01", "Rent", "-1200", ""),
	}

	got := Merge(existing, nil)
	if !reflect.DeepEqual(got.Ledger, existing) {
		t.Errorf("Merge(existing, nil) = %v, want %v", got.Ledger, existing)
	}
	if got.Excluded != 0 {
		t.Errorf("Excluded = %d, want 0", got.Excluded)
	}

	got.Ledger[0].Category = "Changed"
	if existing[0].Category != "Food" {
		t.Error("Merge returned an aliased slice")
	}
}

func TestMerge_NilExisting(t *testing.T) {
	batch := []domain.Transaction{
		tx("2025-11-02", "Cafe", "-4.50", "Food"),
		tx("2025-11-01", "Rent", "-1200", "Rent"),
	}

	got := Merge(nil, batch)
	if len(got.Ledger) != 2 {
		t.Fatalf("len(Ledger) = %d, want 2", len(got.Ledger))
	}
	if got.Ledger[0].Description != "Rent" {
		t.Errorf("first record = %q, want Rent (sorted by date)", got.Ledger[0].Description)
	}
}

func TestMerge_DuplicateKeepsLast(t *testing.T) {
	existing := []domain.Transaction{tx("2025-11-01", "Cafe", "-4.50", "Food")}
	batch := []domain.Transaction{tx("2025-11-01", "Cafe", "-4.5", "")}

	got := Merge(existing, batch)
	if len(got.Ledger) != 1 {
		t.Fatalf("len(Ledger) = %d, want 1", len(got.Ledger))
	}
	if got.Ledger[0].Category != domain.FallbackCategory {
		t.Errorf("Category = %q, want %q", got.Ledger[0].Category, domain.FallbackCategory)
	}
}

func TestMerge_SameDateDifferentDescriptionKept(t *testing.T) {
	batch := []domain.Transaction{
		tx("2025-11-01", "Cafe", "-4.50", "Food"),
		tx("2025-11-01", "Bakery", "-4.50", "Food"),
		tx("2025-11-01", "Cafe", "-5.00", "Food"),
	}

	got := Merge(nil, batch)
	if len(got.Ledger) != 3 {
		t.Fatalf("len(Ledger) = %d, want 3", len(got.Ledger))
	}
	// Stable sort keeps input order within a date.
	for i, want := range []string{"Cafe", "Bakery", "Cafe"} {
		if got.Ledger[i].Description != want {
			t.Errorf("Ledger[%d].Description = %q, want %q", i, got.Ledger[i].Description, want)
		}
	}
}

func TestMerge_KeysAreUnique(t *testing.T) {
	existing := []domain.Transaction{
		tx("2025-10-03", "A", "-1", "Food"),
		tx("2025-10-03", "A", "-1", "Food"),
		tx("2025-10-01", "B", "-2", "Rent"),
	}
	batch := []domain.Transaction{
		tx("2025-10-01", "B", "-2.00", "Utilities"),
		tx("2025-10-02", "C", "3", ""),
	}

	got := Merge(existing, batch)
	seen := map[domain.Key]bool{}
	for _, r := range got.Ledger {
		if seen[r.Key()] {
			t.Errorf("duplicate key %v", r.Key())
		}
		seen[r.Key()] = true
	}
	for i := 1; i < len(got.Ledger); i++ {
		if got.Ledger[i].Date.Before(got.Ledger[i-1].Date) {
			t.Errorf("ledger not sorted at %d", i)
		}
	}
	if got.Ledger[0].Category != "Utilities" {
		t.Errorf("re-merged category = %q, want Utilities", got.Ledger[0].Category)
	}
}

func TestMerge_Deterministic(t *testing.T) {
	existing := []domain.Transaction{
		tx("2025-10-03", "A", "-1", "Food"),
		tx("2025-10-01", "B", "-2", "Rent"),
	}
	batch := []domain.Transaction{
		tx("2025-10-02", "C", "3", ""),
		tx("2025-10-01", "B", "-2", "Rent"),
	}

	first := Merge(existing, batch)
	second := Merge(existing, batch)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Merge not deterministic: %v vs %v", first, second)
	}
}

func TestApplyFallback_Idempotent(t *testing.T) {
	in := []domain.Transaction{
		tx("2025-10-01", "A", "-1", ""),
		tx("2025-10-01", "B", "-1", "  "),
		tx("2025-10-01", "C", "-1", "Food"),
	}

	once := ApplyFallback(in)
	twice := ApplyFallback(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("ApplyFallback not idempotent: %v vs %v", once, twice)
	}
	for _, r := range once {
		if r.Category == "" {
			t.Errorf("blank category survived for %q", r.Description)
		}
	}
	if in[0].Category != "" {
		t.Error("ApplyFallback mutated its input")
	}
}

func TestMergeRows(t *testing.T) {
	tests := []struct {
		name         string
		existing     []domain.Transaction
		rows         []Row
		wantLen      int
		wantExcluded int
	}{
		{
			name: "two valid rows",
			rows: []Row{
				{Date: "2025-11-01", Description: "Cafe", Amount: "-4.50", Category: "Food"},
				{Date: "2025-11-03", Description: "Rent", Amount: "-1200", Category: "Rent"},
			},
			wantLen: 2,
		},
		{
			name: "malformed amount is excluded",
			rows: []Row{
				{Date: "2025-11-01", Description: "Cafe", Amount: "abc", Category: "Food"},
				{Date: "2025-11-03", Description: "Rent", Amount: "-1200", Category: "Rent"},
			},
			wantLen:      1,
			wantExcluded: 1,
		},
		{
			name: "malformed date is excluded",
			rows: []Row{
				{Date: "yesterday", Description: "Cafe", Amount: "-4.50"},
			},
			existing:     []domain.Transaction{tx("2025-10-01", "B", "-2", "Rent")},
			wantLen:      1,
			wantExcluded: 1,
		},
		{
			name: "invalid existing record is excluded",
			existing: []domain.Transaction{
				{Description: "no date", Amount: decimal.NewFromInt(-1)},
			},
			rows:         []Row{{Date: "2025-11-01", Description: "Cafe", Amount: "-4.50"}},
			wantLen:      1,
			wantExcluded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRows(tt.existing, tt.rows)
			if len(got.Ledger) != tt.wantLen {
				t.Errorf("len(Ledger) = %d, want %d", len(got.Ledger), tt.wantLen)
			}
			if got.Excluded != tt.wantExcluded {
				t.Errorf("Excluded = %d, want %d", got.Excluded, tt.wantExcluded)
			}
		})
	}
}

func TestSourceFiles(t *testing.T) {
	l := []domain.Transaction{
		{SourceFile: "nov.pdf"},
		{SourceFile: "nov.pdf"},
		{SourceFile: "dec.pdf"},
		{},
	}
	got := SourceFiles(l)
	want := map[string]bool{"nov.pdf": true, "dec.pdf": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SourceFiles() = %v, want %v", got, want)
	}
}
