package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/logger"
)

// DefaultCommand is the statement parser CLI invoked when none is configured.
const DefaultCommand = "monopoly"

// DefaultArgs invoke the CLI as "<cmd> <input> -o <outdir>".
var DefaultArgs = []string{"{input}", "-o", "{output}"}

// Command runs an external CLI that writes CSV files into an output
// directory. Each statement gets its own temporary directory.
type Command struct {
	Path string
	// Args may reference {input} (the statement path) and {output} (the
	// directory to write CSV into).
	Args []string
}

// NewCommand returns a Command, applying defaults for empty values.
func NewCommand(path string, args []string) *Command {
	if path == "" {
		path = DefaultCommand
	}
	if len(args) == 0 {
		args = DefaultArgs
	}
	return &Command{Path: path, Args: args}
}

// Extract implements Extractor. The first CSV file (by name) in the output
// directory is read; none at all yields ErrNoOutput.
func (c *Command) Extract(ctx context.Context, st Statement) ([]ledger.Row, error) {
	log := logger.FromContext(ctx)

	dir, err := os.MkdirTemp("", "statement-*")
	if err != nil {
		return nil, fmt.Errorf("Command.Extract: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, safeName(st.Name))
	if err := os.WriteFile(input, st.Data, 0o600); err != nil {
		return nil, fmt.Errorf("Command.Extract: write statement: %w", err)
	}
	output := filepath.Join(dir, "out")
	if err := os.Mkdir(output, 0o700); err != nil {
		return nil, fmt.Errorf("Command.Extract: create output dir: %w", err)
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, "{input}", input)
		args[i] = strings.ReplaceAll(a, "{output}", output)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stderr = &stderr
	log.Debug().Str("command", c.Path).Strs("args", args).Str("file", st.Name).Msg("running extractor")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("Command.Extract: run %s on %s: %w: %s", c.Path, st.Name, err, strings.TrimSpace(stderr.String()))
	}

	matches, err := filepath.Glob(filepath.Join(output, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("Command.Extract: glob output: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoOutput
	}
	sort.Strings(matches)

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, fmt.Errorf("Command.Extract: open output: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func safeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "statement.pdf"
	}
	return base
}
