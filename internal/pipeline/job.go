// Package pipeline drives statement ingestion as a resumable job: extract
// every uploaded file, then categorize the batch row by row. Progress lives
// in a serializable State so a stopped job continues later without
// re-extracting files or re-resolving rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/statement-ledger/internal/extract"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/resolver"
	"golang.org/x/time/rate"
)

// ErrNoUsableData is returned when processing finished with an empty batch.
// The state is reset to StepUpload.
var ErrNoUsableData = errors.New("no usable data extracted from any file")

// DefaultMinDelay spaces resolver calls to stay under a 15 requests/minute quota.
const DefaultMinDelay = 4100 * time.Millisecond

// Source fetches the bytes behind a FileRef location.
type Source interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// Deps are the collaborators of a Job.
type Deps struct {
	Source    Source
	Extractor extract.Extractor
	// Resolver may be nil when sessions never use it.
	Resolver resolver.Resolver
	// Limiter throttles resolver calls. When nil one is built from MinDelay.
	// Share a limiter between jobs that call the same resolver.
	Limiter  *rate.Limiter
	MinDelay time.Duration
}

// NewLimiter allows one call per minDelay; minDelay <= 0 disables throttling.
func NewLimiter(minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minDelay), 1)
}

// Job advances a State one unit of work at a time.
type Job struct {
	deps    Deps
	limiter *rate.Limiter

	mu    sync.Mutex
	state State

	stopRequested atomic.Bool
}

// NewJob wraps state. The state is copied; read progress with Checkpoint.
func NewJob(state State, deps Deps) *Job {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewLimiter(deps.MinDelay)
	}
	return &Job{
		deps:    deps,
		limiter: limiter,
		state:   state.Clone(),
	}
}

// ID returns the session ID of the wrapped state.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.ID
}

// HasMore reports whether Next has work to do.
func (j *Job) HasMore() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Step == StepProcessing && !j.state.Stopped
}

// Checkpoint returns a copy of the current state, safe to persist.
func (j *Job) Checkpoint() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Clone()
}

// Stop asks the job to halt before its next unit of work. A unit already in
// flight completes. Safe to call from any goroutine. A stopped job stays
// stopped; to continue, call State.Resume on its checkpoint and build a new Job.
func (j *Job) Stop() {
	j.stopRequested.Store(true)
}

// Next performs one unit of work: extracting the next file or categorizing
// the next row. When the last unit completes the state moves to StepReview,
// or ErrNoUsableData is returned if the batch is empty.
func (j *Job) Next(ctx context.Context) error {
	if !j.HasMore() {
		return nil
	}
	ctx = logger.WithSession(ctx, j.ID())
	if j.stopRequested.Load() || ctx.Err() != nil {
		j.halt(ctx)
		return nil
	}

	j.mu.Lock()
	st := j.state
	j.mu.Unlock()

	switch {
	case st.FileIndex < len(st.Files):
		j.extractFile(ctx, st.FileIndex, st.Files[st.FileIndex])
	case st.UseResolver && st.RowIndex < len(st.Batch):
		if err := j.categorizeRow(ctx, st); err != nil {
			// Cancelled while throttled; the row stays unresolved.
			j.halt(ctx)
			return nil
		}
	}

	return j.finishIfDone(ctx)
}

func (j *Job) extractFile(ctx context.Context, idx int, file FileRef) {
	log := logger.FromContext(ctx).With().
		Str("file", file.Name).
		Int("file_index", idx).
		Logger()

	// An in-flight unit is allowed to finish even if ctx is cancelled.
	rows, err := j.extract(context.WithoutCancel(ctx), file)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.state.FileIndex = idx + 1
	j.state.touch()

	if err != nil {
		msg := err.Error()
		if errors.Is(err, extract.ErrNoOutput) {
			msg = "no transactions found in file"
		}
		log.Warn().Err(err).Msg("skipping file")
		j.state.Warnings = append(j.state.Warnings, Warning{File: file.Name, Message: msg})
		return
	}

	set := j.state.CategorySet()
	for i := range rows {
		rows[i].SourceFile = file.Name
		if c := rows[i].Category; c != "" {
			// Categories outside the set are cleared and resolved like blanks.
			rows[i].Category, _ = set.Lookup(c)
		}
	}
	j.state.Batch = append(j.state.Batch, rows...)
	log.Info().Int("rows", len(rows)).Msg("extracted statement")
}

func (j *Job) extract(ctx context.Context, file FileRef) ([]ledger.Row, error) {
	data, err := j.deps.Source.Fetch(ctx, file.Location)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", file.Location, err)
	}
	rows, err := j.deps.Extractor.Extract(ctx, extract.Statement{Name: file.Name, Data: data})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, extract.ErrNoOutput
	}
	return rows, nil
}

// categorizeRow resolves the row at st.RowIndex. Only a remote resolver call
// waits on the limiter; it returns the limiter's error when ctx ends first.
func (j *Job) categorizeRow(ctx context.Context, st State) error {
	idx := st.RowIndex
	row := st.Batch[idx]
	set := st.CategorySet()

	category, resolved := set.Lookup(row.Category)
	if !resolved && j.deps.Resolver != nil {
		if local, ok := j.deps.Resolver.(resolver.Local); ok {
			category, resolved = local.ResolveLocal(ctx, row.Description, set)
		}
		if !resolved {
			if err := j.limiter.Wait(ctx); err != nil {
				return err
			}
			category = j.deps.Resolver.Resolve(context.WithoutCancel(ctx), row.Description, set)
		}
		category = resolver.Constrain(category, set)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Batch[idx].Category = category
	j.state.RowIndex = idx + 1
	j.state.touch()

	log := logger.FromContext(ctx)
	log.Debug().
		Int("row_index", idx).
		Str("description", row.Description).
		Str("category", category).
		Msg("categorized row")
	return nil
}

func (j *Job) halt(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Stopped = true
	j.state.Step = StepReview
	j.state.touch()

	log := logger.FromContext(ctx)
	log.Info().
		Int("file_index", j.state.FileIndex).
		Int("row_index", j.state.RowIndex).
		Msg("processing stopped")
}

func (j *Job) finishIfDone(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, rows := j.state.Pending()
	if files > 0 || rows > 0 {
		return nil
	}

	log := logger.FromContext(ctx)
	if len(j.state.Batch) == 0 {
		warnings := j.state.Warnings
		j.state.Reset()
		j.state.Warnings = warnings
		log.Warn().Int("warnings", len(warnings)).Msg("no usable data")
		return ErrNoUsableData
	}

	j.state.Step = StepReview
	j.state.touch()
	log.Info().Int("rows", len(j.state.Batch)).Msg("processing complete")
	return nil
}

// Run drives job until it finishes, stops or fails, calling onCheckpoint
// after every unit of work. onCheckpoint may be nil.
func Run(ctx context.Context, job *Job, onCheckpoint func(State) error) (State, error) {
	for job.HasMore() {
		err := job.Next(ctx)
		if onCheckpoint != nil {
			if cerr := onCheckpoint(job.Checkpoint()); cerr != nil {
				return job.Checkpoint(), fmt.Errorf("Run: checkpoint: %w", cerr)
			}
		}
		if err != nil {
			return job.Checkpoint(), err
		}
	}
	return job.Checkpoint(), nil
}
