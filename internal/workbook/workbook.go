// Package workbook persists the ledger as an .xlsx file and reads it back.
//
// Sheets are partitioned explicitly. Core sheets (the flat ledger and the
// derived report sheets) are listed in a custom document property and are
// regenerated on every write. Every other sheet is passthrough: it is never
// parsed and is carried over unchanged.
package workbook

import (
	"errors"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Sheet names owned by the ledger.
const (
	LedgerSheet   = "Ledger"
	OverviewSheet = "Overview"
	BudgetSheet   = "Budget"
)

// ownershipProperty lists the core sheets, separated by "/", which cannot
// appear in a sheet name.
const ownershipProperty = "LedgerCoreSheets"

// ContentType is the MIME type of written workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrCorruptWorkbook is returned when a workbook cannot be opened or its
// ledger sheet cannot be read.
var ErrCorruptWorkbook = errors.New("corrupt or unreadable workbook")

// LedgerColumns is the header of the ledger sheet.
var LedgerColumns = []string{"date", "description", "amount", "category", "source_file"}

// Options control optional report sheets.
type Options struct {
	// MonthSheets adds one sheet per month (dates by categories, daily sums).
	MonthSheets bool
}

// Book is what Read recovers from a workbook.
type Book struct {
	Ledger []domain.Transaction
	// Excluded counts ledger rows whose date or amount could not be parsed.
	Excluded int
	// Core lists sheets regenerated on write; Passthrough the rest.
	Core        []string
	Passthrough []string
}

// coreSheets returns the set of sheets f's ledger owns. Workbooks without the
// ownership property are treated by name: the fixed sheets plus any sheet
// named like a month ("November 2025").
func coreSheets(f *excelize.File) map[string]bool {
	owned := map[string]bool{
		LedgerSheet:   true,
		OverviewSheet: true,
		BudgetSheet:   true,
	}

	if listed, ok := ownershipList(f); ok {
		for _, name := range listed {
			owned[name] = true
		}
		return owned
	}

	for _, name := range f.GetSheetList() {
		if _, err := domain.ParseMonthLabel(name); err == nil {
			owned[name] = true
		}
	}
	return owned
}

func ownershipList(f *excelize.File) ([]string, bool) {
	props, err := f.GetCustomProps()
	if err != nil {
		return nil, false
	}
	for _, p := range props {
		if p.Name != ownershipProperty {
			continue
		}
		s, ok := p.Value.(string)
		if !ok {
			return nil, false
		}
		var names []string
		for _, n := range strings.Split(s, "/") {
			if n != "" {
				names = append(names, n)
			}
		}
		return names, true
	}
	return nil, false
}
