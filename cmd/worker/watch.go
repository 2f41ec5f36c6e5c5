package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/session"
	"github.com/dvloznov/statement-ledger/internal/tracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

type ledgerService interface {
	SourceFiles(ctx context.Context) (map[string]bool, error)
	Save(ctx context.Context, rows []ledger.Row) (*tracker.SaveResult, error)
}

// watcher ingests statements that appear under a prefix. A file is ingested
// at most once: files whose name is already a source_file in the ledger are
// skipped.
type watcher struct {
	lister     lister
	ledger     ledgerService
	sessions   session.Store
	deps       pipeline.Deps
	categories domain.CategorySet
	prefix     string

	mu sync.Mutex
}

// sessionPrefix marks sessions started by the watcher so an interrupted scan
// is picked up by the next one.
const sessionPrefix = "watch-"

// scan runs one pass. Unfinished watcher sessions are completed first, then
// new files are ingested. It returns the number of ledger records added.
func (w *watcher) scan(ctx context.Context) (int, error) {
	if !w.mu.TryLock() {
		return 0, errors.New("previous scan still running")
	}
	defer w.mu.Unlock()

	log := logger.FromContext(ctx)

	added, finished, err := w.resumePending(ctx)
	if err != nil || !finished {
		return added, err
	}

	locations, err := w.lister.List(ctx, w.prefix)
	if errors.Is(err, gcs.ErrNotFound) {
		log.Warn().Str("prefix", w.prefix).Msg("Watch prefix does not exist yet")
		return added, nil
	}
	if err != nil {
		return added, fmt.Errorf("scan: %w", err)
	}

	seen, err := w.ledger.SourceFiles(ctx)
	if err != nil {
		return added, fmt.Errorf("scan: %w", err)
	}

	var files []pipeline.FileRef
	for _, loc := range locations {
		name := gcs.FileName(loc)
		if seen[name] {
			continue
		}
		files = append(files, pipeline.FileRef{Name: name, Location: loc})
	}
	if len(files) == 0 {
		log.Info().Str("prefix", w.prefix).Int("listed", len(locations)).Msg("No new statements")
		return added, nil
	}

	st := pipeline.NewState(sessionPrefix+uuid.NewString(), files)
	if err := st.Confirm(true, w.categories); err != nil {
		return added, fmt.Errorf("scan: %w", err)
	}
	log.Info().Str("session_id", st.ID).Int("files", len(files)).Msg("Ingesting new statements")

	n, _, err := w.ingest(ctx, st)
	return added + n, err
}

// resumePending completes watcher sessions left stopped, processing or
// unsaved by an earlier scan. Rows already categorized are not resolved
// again. finished is false when a session was interrupted again.
func (w *watcher) resumePending(ctx context.Context) (added int, finished bool, err error) {
	states, err := w.sessions.List(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("scan: list sessions: %w", err)
	}

	for _, st := range states {
		if !strings.HasPrefix(st.ID, sessionPrefix) {
			continue
		}
		switch {
		case st.Step == pipeline.StepReview && st.Stopped:
			if err := st.Resume(); err != nil {
				return added, false, fmt.Errorf("scan: %w", err)
			}
		case st.Step == pipeline.StepProcessing, st.Step == pipeline.StepReview:
		default:
			continue
		}

		log := logger.FromContext(ctx)
		log.Info().Str("session_id", st.ID).Int("row_index", st.RowIndex).Msg("Resuming interrupted scan")

		n, ok, err := w.ingest(ctx, st)
		added += n
		if err != nil || !ok {
			return added, false, err
		}
	}
	return added, true, nil
}

// ingest runs st to completion and saves its batch. finished is false when
// processing stopped early; the stopped state is checkpointed for the next scan.
func (w *watcher) ingest(ctx context.Context, st pipeline.State) (added int, finished bool, err error) {
	log := logger.FromContext(ctx).With().Str("session_id", st.ID).Logger()

	// Checkpoints outlive cancellation so a stop is always recorded.
	checkpointCtx := context.WithoutCancel(ctx)
	final := st
	if st.Step == pipeline.StepProcessing {
		final, err = pipeline.Run(ctx, pipeline.NewJob(st, w.deps), func(s pipeline.State) error {
			return w.sessions.Save(checkpointCtx, s)
		})
		logWarnings(log, final.Warnings)
		if errors.Is(err, pipeline.ErrNoUsableData) {
			return 0, true, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("scan: %w", err)
		}
		if final.Stopped {
			log.Warn().Int("row_index", final.RowIndex).Msg("Scan interrupted; the next scan resumes it")
			return 0, false, nil
		}
	}

	result, err := w.ledger.Save(ctx, final.Batch)
	if err != nil {
		return 0, false, fmt.Errorf("scan: %w", err)
	}
	if err := final.MarkSaved(); err != nil {
		return 0, false, fmt.Errorf("scan: %w", err)
	}
	if err := w.sessions.Save(checkpointCtx, final); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint saved session")
	}

	log.Info().
		Int("added", result.Added).
		Int("records", result.Records).
		Int("excluded", result.Excluded).
		Msg("Scheduled ingestion saved")
	return result.Added, true, nil
}

func logWarnings(log zerolog.Logger, warnings []pipeline.Warning) {
	for _, w := range warnings {
		log.Warn().Str("file", w.File).Str("reason", w.Message).Msg("Statement skipped")
	}
}
