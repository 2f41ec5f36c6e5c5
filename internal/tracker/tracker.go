// Package tracker owns the master workbook: it loads the ledger, merges new
// batches into it and saves the regenerated workbook.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-ledger/internal/aggregate"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/workbook"
)

// BlobStore reads and writes the workbook bytes. *gcs.Store satisfies it.
type BlobStore interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
	Put(ctx context.Context, location string, data []byte, contentType string) error
}

// Service merges batches into the workbook at one location.
type Service struct {
	store    BlobStore
	location string
	budgets  domain.Budgets
	opts     workbook.Options
	now      func() time.Time
}

// NewService creates a Service for the workbook at location.
func NewService(store BlobStore, location string, budgets domain.Budgets, opts workbook.Options) *Service {
	return &Service{
		store:    store,
		location: location,
		budgets:  budgets,
		opts:     opts,
		now:      time.Now,
	}
}

// Location returns where the workbook lives.
func (s *Service) Location() string {
	return s.location
}

// Loaded is the persisted state of the workbook.
type Loaded struct {
	Ledger   []domain.Transaction
	Excluded int
	// Base is the raw workbook, nil when none exists yet.
	Base []byte
	// Corrupt is set when Base could not be read; Ledger is then empty.
	Corrupt     error
	Passthrough []string
}

// LoadLedger reads the current ledger. A missing workbook is an empty ledger.
// An unreadable workbook is also an empty ledger, with Loaded.Corrupt set;
// only storage failures are returned as errors.
func (s *Service) LoadLedger(ctx context.Context) (*Loaded, error) {
	log := logger.FromContext(ctx)

	data, err := s.store.Fetch(ctx, s.location)
	if errors.Is(err, gcs.ErrNotFound) {
		log.Info().Str("location", s.location).Msg("no workbook yet, starting empty ledger")
		return &Loaded{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadLedger: %w", err)
	}

	book, err := workbook.Read(data)
	if errors.Is(err, workbook.ErrCorruptWorkbook) {
		log.Error().Err(err).Str("location", s.location).Msg("workbook unreadable, falling back to empty ledger")
		return &Loaded{Base: data, Corrupt: err}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadLedger: %w", err)
	}

	if book.Excluded > 0 {
		log.Warn().Int("excluded", book.Excluded).Msg("ledger rows with invalid date or amount skipped")
	}
	return &Loaded{
		Ledger:      book.Ledger,
		Excluded:    book.Excluded,
		Base:        data,
		Passthrough: book.Passthrough,
	}, nil
}

// SaveResult describes a completed save.
type SaveResult struct {
	Records  int              `json:"records"`
	Added    int              `json:"added"`
	Excluded int              `json:"excluded"`
	Backup   string           `json:"backup,omitempty"`
	Views    *aggregate.Views `json:"-"`
}

// Save merges rows into the stored ledger and writes the workbook back.
// If the stored workbook was unreadable its bytes are first copied to a
// backup location and a fresh workbook is written.
func (s *Service) Save(ctx context.Context, rows []ledger.Row) (*SaveResult, error) {
	log := logger.FromContext(ctx)

	loaded, err := s.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("Save: %w", err)
	}

	merged := ledger.MergeRows(loaded.Ledger, rows)
	views := aggregate.Aggregate(merged.Ledger, s.budgets)

	result := &SaveResult{
		Records:  len(merged.Ledger),
		Added:    len(merged.Ledger) - len(loaded.Ledger),
		Excluded: merged.Excluded,
		Views:    views,
	}

	base := loaded.Base
	if loaded.Corrupt != nil {
		result.Backup = fmt.Sprintf("%s.corrupt-%s", s.location, s.now().UTC().Format("20060102T150405Z"))
		if err := s.store.Put(ctx, result.Backup, loaded.Base, ""); err != nil {
			return nil, fmt.Errorf("Save: back up unreadable workbook: %w", err)
		}
		log.Warn().Str("backup", result.Backup).Msg("unreadable workbook backed up")
		base = nil
	}

	data, err := workbook.Write(base, merged.Ledger, views, s.opts)
	if err != nil {
		return nil, fmt.Errorf("Save: %w", err)
	}
	if err := s.store.Put(ctx, s.location, data, workbook.ContentType); err != nil {
		return nil, fmt.Errorf("Save: %w", err)
	}

	log.Info().
		Str("location", s.location).
		Int("batch", len(rows)).
		Int("records", result.Records).
		Int("added", result.Added).
		Int("excluded", result.Excluded).
		Msg("ledger saved")
	return result, nil
}

// SourceFiles returns the source_file tags already in the ledger.
func (s *Service) SourceFiles(ctx context.Context) (map[string]bool, error) {
	loaded, err := s.LoadLedger(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.SourceFiles(loaded.Ledger), nil
}
