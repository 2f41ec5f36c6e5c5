package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
)

// ErrRunnerClosed is returned by Enqueue after Close.
var ErrRunnerClosed = errors.New("runner is closed")

// Runner processes sessions in the background, one at a time, so resolver
// calls from different sessions never overlap. Each session is checkpointed
// to the store after every unit of work.
type Runner struct {
	store Store
	deps  pipeline.Deps

	queue     chan string
	closeChan chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[string]*pipeline.Job
	queued map[string]bool
	stops  map[string]bool
	closed bool
}

// NewRunner creates a runner. bufferSize bounds how many sessions can wait
// before Enqueue blocks. A shared deps.Limiter is created if missing.
func NewRunner(store Store, deps pipeline.Deps, bufferSize int) *Runner {
	if deps.Limiter == nil {
		deps.Limiter = pipeline.NewLimiter(deps.MinDelay)
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Runner{
		store:     store,
		deps:      deps,
		queue:     make(chan string, bufferSize),
		closeChan: make(chan struct{}),
		active:    make(map[string]*pipeline.Job),
		queued:    make(map[string]bool),
		stops:     make(map[string]bool),
	}
}

// Start launches the worker. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.worker(ctx)
}

// Enqueue schedules a session in StepProcessing. Enqueueing a session that is
// already queued or running is a no-op.
func (r *Runner) Enqueue(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	if r.queued[id] || r.active[id] != nil {
		r.mu.Unlock()
		return nil
	}
	r.queued[id] = true
	delete(r.stops, id)
	r.mu.Unlock()

	select {
	case r.queue <- id:
		return nil
	case <-ctx.Done():
		r.forget(id)
		return ctx.Err()
	case <-r.closeChan:
		r.forget(id)
		return ErrRunnerClosed
	}
}

// Stop asks a queued or running session to halt. It reports whether the
// session was known to the runner.
func (r *Runner) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job := r.active[id]; job != nil {
		job.Stop()
		return true
	}
	if r.queued[id] {
		r.stops[id] = true
		return true
	}
	return false
}

// Busy reports whether a session is queued or running.
func (r *Runner) Busy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queued[id] || r.active[id] != nil
}

// Close stops accepting sessions, halts the running one at its next
// suspension point and waits for the worker to exit.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.closeChan)
	for _, job := range r.active {
		job.Stop()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closeChan:
			return
		case id := <-r.queue:
			if err := r.process(ctx, id); err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Str("session_id", id).Msg("session processing failed")
			}
		}
	}
}

func (r *Runner) process(ctx context.Context, id string) error {
	st, err := r.store.Get(ctx, id)
	if err != nil {
		r.forget(id)
		return fmt.Errorf("Runner.process: load: %w", err)
	}
	if st.Step != pipeline.StepProcessing {
		r.forget(id)
		return nil
	}

	job := pipeline.NewJob(st, r.deps)

	r.mu.Lock()
	delete(r.queued, id)
	r.active[id] = job
	if r.stops[id] || r.closed {
		job.Stop()
	}
	delete(r.stops, id)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	_, err = pipeline.Run(ctx, job, func(s pipeline.State) error {
		return r.store.Save(ctx, s)
	})
	if errors.Is(err, pipeline.ErrNoUsableData) {
		log := logger.FromContext(ctx)
		log.Warn().Str("session_id", id).Msg("session produced no usable data")
		return nil
	}
	return err
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queued, id)
	delete(r.stops, id)
}
