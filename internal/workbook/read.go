package workbook

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/xuri/excelize/v2"
)

// Read recovers the ledger from a persisted workbook. Report sheets are never
// read. An empty input is an empty book; a workbook without a ledger sheet
// has an empty ledger. Rows with an unparseable date or amount are counted in
// Book.Excluded.
func Read(data []byte) (*Book, error) {
	if len(data) == 0 {
		return &Book{}, nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
	}
	defer f.Close()

	book := &Book{}
	owned := coreSheets(f)
	for _, name := range f.GetSheetList() {
		if owned[name] {
			book.Core = append(book.Core, name)
		} else {
			book.Passthrough = append(book.Passthrough, name)
		}
	}

	if idx, err := f.GetSheetIndex(LedgerSheet); err != nil || idx < 0 {
		return book, nil
	}

	rows, err := f.GetRows(LedgerSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptWorkbook, LedgerSheet, err)
	}
	if len(rows) == 0 {
		return book, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "description", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s sheet has no %q column", ErrCorruptWorkbook, LedgerSheet, required)
		}
	}
	cell := func(r []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(r) {
			return ""
		}
		return r[i]
	}

	for _, r := range rows[1:] {
		if isEmptyRow(r) {
			continue
		}
		t, err := ledger.ParseRow(ledger.Row{
			Date:        dateText(cell(r, "date")),
			Description: cell(r, "description"),
			Amount:      cell(r, "amount"),
			Category:    cell(r, "category"),
			SourceFile:  cell(r, "source_file"),
		})
		if err != nil {
			book.Excluded++
			continue
		}
		book.Ledger = append(book.Ledger, t)
	}
	return book, nil
}

// dateText turns an Excel serial date (a date cell edited by hand) into ISO
// form; anything else is returned unchanged.
func dateText(raw string) string {
	raw = strings.TrimSpace(raw)
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return raw
	}
	return civil.DateOf(t).String()
}

func isEmptyRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
