package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/ledger"
)

// ReadCSV reads extractor CSV output. The header is matched
// case-insensitively and must contain date, description and amount;
// category and source_file are optional. Blank lines are skipped.
func ReadCSV(r io.Reader) ([]ledger.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoOutput
	}
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, required := range []string{"date", "description", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("ReadCSV: missing %q column in header %v", required, header)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []ledger.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadCSV: line %d: %w", line, err)
		}
		if isBlank(rec) {
			continue
		}
		rows = append(rows, ledger.Row{
			Date:        field(rec, "date"),
			Description: field(rec, "description"),
			Amount:      field(rec, "amount"),
			Category:    field(rec, "category"),
			SourceFile:  field(rec, "source_file"),
		})
	}

	if len(rows) == 0 {
		return nil, ErrNoOutput
	}
	return rows, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// CSV extracts statements that are already in extractor CSV form.
var CSV = Func(func(ctx context.Context, st Statement) ([]ledger.Row, error) {
	return ReadCSV(bytes.NewReader(st.Data))
})
