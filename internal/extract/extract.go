// Package extract turns statement files into raw transaction rows.
package extract

import (
	"context"
	"errors"

	"github.com/dvloznov/statement-ledger/internal/ledger"
)

// ErrNoOutput is returned when an extractor ran but produced no rows.
var ErrNoOutput = errors.New("extractor produced no output")

// Statement is one uploaded statement file.
type Statement struct {
	// Name identifies the file and becomes the rows' source_file.
	Name string
	Data []byte
}

// Extractor reads a statement into rows in statement order. Rows carry at
// least date, description and amount; category is usually blank.
type Extractor interface {
	Extract(ctx context.Context, st Statement) ([]ledger.Row, error)
}

// Func adapts an ordinary function to Extractor.
type Func func(ctx context.Context, st Statement) ([]ledger.Row, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, st Statement) ([]ledger.Row, error) {
	return f(ctx, st)
}
