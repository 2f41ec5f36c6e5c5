package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dvloznov/statement-ledger/internal/aggregate"
	"github.com/dvloznov/statement-ledger/internal/extract"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/tracker"
	"github.com/shopspring/decimal"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Save?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.HasPrefix(out.String(), "Save? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestPrintBatch(t *testing.T) {
	st := pipeline.State{Batch: []ledger.Row{
		{Date: "2025-11-01", Description: "Cafe", Amount: "-4.50", Category: "Food", SourceFile: "nov.pdf"},
		{Date: "2025-11-02", Description: "Bus", Amount: "-2.40", SourceFile: "nov.pdf"},
	}}
	var out bytes.Buffer
	printBatch(&out, st)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("printBatch wrote %d lines, want 3:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "Bus") || !strings.Contains(lines[2], " - ") {
		t.Errorf("blank category should print as '-': %q", lines[2])
	}
}

func TestPrintDashboard(t *testing.T) {
	d := &tracker.Dashboard{
		Headline: aggregate.Headline{
			TotalSpend:       decimal.RequireFromString("1204.5"),
			AveragePerMonth:  decimal.RequireFromString("1204.5"),
			TopCategory:      "Rent",
			TopCategorySpend: decimal.NewFromInt(1200),
			Months:           1,
			Transactions:     2,
		},
		Breakdown: []aggregate.Share{{Category: "Rent", Spend: decimal.NewFromInt(1200), Percent: decimal.RequireFromString("99.6")}},
		Heartbeat: []aggregate.MonthPoint{{Month: "November 2025", Spend: decimal.RequireFromString("1204.5")}},
		Months:    []string{"November 2025"},
		Budget: []tracker.BudgetLine{{
			Category:  "Rent",
			Threshold: decimal.NewFromInt(1000),
			Actual:    []decimal.Decimal{decimal.NewFromInt(1200)},
			Over:      []bool{true},
		}},
	}

	var out bytes.Buffer
	printDashboard(&out, d)
	got := out.String()
	for _, want := range []string{"Total spend:       1204.50", "Top category:      Rent (1200.00)", "99.6%", "1200.00 !"} {
		if !strings.Contains(got, want) {
			t.Errorf("dashboard output missing %q:\n%s", want, got)
		}
	}
}

func TestWriteRows_RoundTripsThroughReadCSV(t *testing.T) {
	rows := []ledger.Row{
		{Date: "2025-11-01", Description: "Cafe, Soho", Amount: "-4.50"},
		{Date: "2025-11-02", Description: `Shop "A"`, Amount: "10", Category: "Other"},
	}
	var out bytes.Buffer
	if err := writeRows(&out, rows); err != nil {
		t.Fatalf("writeRows() error = %v", err)
	}
	got, err := extract.ReadCSV(&out)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(got) != 2 || got[0] != rows[0] || got[1] != rows[1] {
		t.Errorf("round trip = %+v, want %+v", got, rows)
	}
}
