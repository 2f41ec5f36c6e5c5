package workbook

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-ledger/internal/aggregate"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// scratchSheet keeps the workbook non-empty while core sheets are replaced.
const scratchSheet = "_ledger_scratch"

// Write renders l and v into a workbook. base is the previously persisted
// workbook, or nil for a new file; its passthrough sheets are kept as they
// are and its core sheets are replaced. A nil v is computed from l without
// budgets.
func Write(base []byte, l []domain.Transaction, v *aggregate.Views, opts Options) ([]byte, error) {
	if v == nil {
		v = aggregate.Aggregate(l, nil)
	}

	f, fresh, err := open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.NewSheet(scratchSheet); err != nil {
		return nil, fmt.Errorf("Write: add scratch sheet: %w", err)
	}
	owned := coreSheets(f)
	for _, name := range f.GetSheetList() {
		if name == scratchSheet {
			continue
		}
		if owned[name] || (fresh && name == "Sheet1") {
			if err := f.DeleteSheet(name); err != nil {
				return nil, fmt.Errorf("Write: delete %s: %w", name, err)
			}
		}
	}

	w, err := newSheetWriter(f)
	if err != nil {
		return nil, err
	}
	if err := w.ledger(l); err != nil {
		return nil, fmt.Errorf("Write: ledger sheet: %w", err)
	}
	if err := w.overview(v, len(l)); err != nil {
		return nil, fmt.Errorf("Write: overview sheet: %w", err)
	}
	if err := w.budget(v); err != nil {
		return nil, fmt.Errorf("Write: budget sheet: %w", err)
	}
	if opts.MonthSheets {
		for _, m := range v.Months {
			if err := w.month(m, aggregate.MonthRecords(l, m)); err != nil {
				return nil, fmt.Errorf("Write: month sheet %s: %w", m.Label(), err)
			}
		}
	}

	if err := f.DeleteSheet(scratchSheet); err != nil {
		return nil, fmt.Errorf("Write: delete scratch sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(OverviewSheet); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	if err := f.SetCustomProps(excelize.CustomProperty{
		Name:  ownershipProperty,
		Value: strings.Join(w.written, "/"),
	}); err != nil {
		return nil, fmt.Errorf("Write: record core sheets: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("Write: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

func open(base []byte) (*excelize.File, bool, error) {
	if len(base) == 0 {
		return excelize.NewFile(), true, nil
	}
	f, err := excelize.OpenReader(bytes.NewReader(base))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
	}
	return f, false, nil
}

type sheetWriter struct {
	f       *excelize.File
	written []string

	header int
	title  int
	money  int
	over   int
	total  int
}

func newSheetWriter(f *excelize.File) (*sheetWriter, error) {
	w := &sheetWriter{f: f}
	moneyFmt := "#,##0.00"

	styles := []struct {
		id    *int
		style *excelize.Style
	}{
		{&w.header, &excelize.Style{
			Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"305496"}},
		}},
		{&w.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}},
		{&w.money, &excelize.Style{CustomNumFmt: &moneyFmt}},
		{&w.over, &excelize.Style{
			CustomNumFmt: &moneyFmt,
			Font:         &excelize.Font{Color: "9C0006"},
			Fill:         excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFC7CE"}},
		}},
		{&w.total, &excelize.Style{CustomNumFmt: &moneyFmt, Font: &excelize.Font{Bold: true}}},
	}
	for _, s := range styles {
		id, err := f.NewStyle(s.style)
		if err != nil {
			return nil, fmt.Errorf("create style: %w", err)
		}
		*s.id = id
	}
	return w, nil
}

func (w *sheetWriter) addSheet(name string) error {
	if _, err := w.f.NewSheet(name); err != nil {
		return err
	}
	w.written = append(w.written, name)
	return nil
}

func (w *sheetWriter) row(sheet string, col, row int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(sheet, cell, &values)
}

func (w *sheetWriter) style(sheet string, col1, row1, col2, row2, style int) error {
	from, err := excelize.CoordinatesToCellName(col1, row1)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(col2, row2)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(sheet, from, to, style)
}

func (w *sheetWriter) ledger(l []domain.Transaction) error {
	if err := w.addSheet(LedgerSheet); err != nil {
		return err
	}
	header := make([]interface{}, len(LedgerColumns))
	for i, c := range LedgerColumns {
		header[i] = c
	}
	if err := w.row(LedgerSheet, 1, 1, header...); err != nil {
		return err
	}
	if err := w.style(LedgerSheet, 1, 1, len(LedgerColumns), 1, w.header); err != nil {
		return err
	}

	for i, t := range l {
		if err := w.row(LedgerSheet, 1, i+2,
			t.Date.String(),
			t.Description,
			amountCell(t.Amount),
			t.Category,
			t.SourceFile,
		); err != nil {
			return err
		}
	}
	if len(l) > 0 {
		if err := w.style(LedgerSheet, 3, 2, 3, len(l)+1, w.money); err != nil {
			return err
		}
	}

	if err := w.f.SetColWidth(LedgerSheet, "A", "A", 12); err != nil {
		return err
	}
	if err := w.f.SetColWidth(LedgerSheet, "B", "B", 40); err != nil {
		return err
	}
	if err := w.f.SetColWidth(LedgerSheet, "D", "E", 18); err != nil {
		return err
	}
	return w.f.SetPanes(LedgerSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// amountCell is a number when a float64 holds d exactly, else its decimal
// text, which Read parses back without loss.
func amountCell(d decimal.Decimal) interface{} {
	f := d.InexactFloat64()
	if decimal.NewFromFloat(f).Equal(d) {
		return f
	}
	return d.String()
}

func (w *sheetWriter) overview(v *aggregate.Views, count int) error {
	const sheet = OverviewSheet
	if err := w.addSheet(sheet); err != nil {
		return err
	}

	h := v.Headline(count)
	if err := w.row(sheet, 1, 1, "Spending overview"); err != nil {
		return err
	}
	if err := w.style(sheet, 1, 1, 1, 1, w.title); err != nil {
		return err
	}
	headline := [][]interface{}{
		{"Total spend", h.TotalSpend.InexactFloat64()},
		{"Average per month", h.AveragePerMonth.InexactFloat64()},
		{"Top category", h.TopCategory, h.TopCategorySpend.InexactFloat64()},
		{"Months", h.Months},
		{"Transactions", h.Transactions},
	}
	for i, r := range headline {
		if err := w.row(sheet, 1, 3+i, r...); err != nil {
			return err
		}
	}
	if err := w.style(sheet, 2, 3, 2, 4, w.money); err != nil {
		return err
	}
	if err := w.style(sheet, 3, 5, 3, 5, w.money); err != nil {
		return err
	}

	// Pivot of spend, months down and categories across.
	const top = 9
	totalCol := len(v.Categories) + 2
	header := []interface{}{"Month"}
	for _, c := range v.Categories {
		header = append(header, c)
	}
	header = append(header, "Total")
	if err := w.row(sheet, 1, top, header...); err != nil {
		return err
	}
	if err := w.style(sheet, 1, top, totalCol, top, w.header); err != nil {
		return err
	}

	for i, m := range v.Months {
		values := []interface{}{m.Label()}
		for j := range v.Categories {
			values = append(values, v.Spend(i, j).InexactFloat64())
		}
		values = append(values, v.MonthTotals[i].Neg().InexactFloat64())
		if err := w.row(sheet, 1, top+1+i, values...); err != nil {
			return err
		}
	}

	totalRow := top + 1 + len(v.Months)
	totals := []interface{}{"Total"}
	for j := range v.Categories {
		totals = append(totals, v.CategoryTotals[j].Neg().InexactFloat64())
	}
	totals = append(totals, v.Total.Neg().InexactFloat64())
	if err := w.row(sheet, 1, totalRow, totals...); err != nil {
		return err
	}
	if len(v.Months) > 0 {
		if err := w.style(sheet, 2, top+1, totalCol, totalRow-1, w.money); err != nil {
			return err
		}
	}
	if err := w.style(sheet, 1, totalRow, totalCol, totalRow, w.total); err != nil {
		return err
	}
	if err := w.f.SetColWidth(sheet, "A", "A", 20); err != nil {
		return err
	}

	if len(v.Months) == 0 {
		return nil
	}
	col, err := excelize.ColumnNumberToName(totalCol)
	if err != nil {
		return err
	}
	anchor, err := excelize.CoordinatesToCellName(totalCol+2, 2)
	if err != nil {
		return err
	}
	return w.f.AddChart(sheet, anchor, &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("'%s'!$%s$%d", sheet, col, top),
			Categories: fmt.Sprintf("'%s'!$A$%d:$A$%d", sheet, top+1, totalRow-1),
			Values:     fmt.Sprintf("'%s'!$%s$%d:$%s$%d", sheet, col, top+1, col, totalRow-1),
		}},
		Title:  []excelize.RichTextRun{{Text: "Monthly spend"}},
		Legend: excelize.ChartLegend{Position: "none"},
	})
}

func (w *sheetWriter) budget(v *aggregate.Views) error {
	const sheet = BudgetSheet
	if err := w.addSheet(sheet); err != nil {
		return err
	}

	header := []interface{}{"Category", "Budget"}
	for _, m := range v.Months {
		header = append(header, m.Label())
	}
	if err := w.row(sheet, 1, 1, header...); err != nil {
		return err
	}
	if err := w.style(sheet, 1, 1, len(header), 1, w.header); err != nil {
		return err
	}

	for i, b := range v.Budget {
		r := i + 2
		values := []interface{}{b.Category}
		if b.Threshold.IsPositive() {
			values = append(values, b.Threshold.InexactFloat64())
		} else {
			values = append(values, "")
		}
		for _, a := range b.Actual {
			values = append(values, a.InexactFloat64())
		}
		if err := w.row(sheet, 1, r, values...); err != nil {
			return err
		}
		if err := w.style(sheet, 2, r, len(header), r, w.money); err != nil {
			return err
		}
		for mi, over := range b.Over {
			if !over {
				continue
			}
			if err := w.style(sheet, 3+mi, r, 3+mi, r, w.over); err != nil {
				return err
			}
		}
	}
	return w.f.SetColWidth(sheet, "A", "A", 20)
}

// month writes a legacy per-month sheet: one row per date, one column per
// category present that month, cells holding daily sums.
func (w *sheetWriter) month(m domain.MonthBucket, records []domain.Transaction) error {
	sheet := m.Label()
	if idx, err := w.f.GetSheetIndex(sheet); err != nil || idx >= 0 {
		// A passthrough sheet already uses the name.
		return err
	}
	if err := w.addSheet(sheet); err != nil {
		return err
	}

	catSet := map[string]bool{}
	daily := map[civil.Date]map[string]decimal.Decimal{}
	for _, t := range records {
		c := domain.NormalizeCategory(t.Category)
		catSet[c] = true
		if daily[t.Date] == nil {
			daily[t.Date] = map[string]decimal.Decimal{}
		}
		daily[t.Date][c] = daily[t.Date][c].Add(t.Amount)
	}
	cats := make([]string, 0, len(catSet))
	for c := range catSet {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	dates := make([]civil.Date, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	header := []interface{}{"Date"}
	for _, c := range cats {
		header = append(header, c)
	}
	if err := w.row(sheet, 1, 1, header...); err != nil {
		return err
	}
	if err := w.style(sheet, 1, 1, len(header), 1, w.header); err != nil {
		return err
	}

	for i, d := range dates {
		values := []interface{}{d.String()}
		for _, c := range cats {
			values = append(values, daily[d][c].InexactFloat64())
		}
		if err := w.row(sheet, 1, i+2, values...); err != nil {
			return err
		}
	}
	if len(dates) > 0 {
		return w.style(sheet, 2, 2, len(header), len(dates)+1, w.money)
	}
	return nil
}
