package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/coderun/internal/backend"
	"github.com/seantiz/coderun/internal/store"
	"github.com/seantiz/coderun/pkg/model"
)

// Engine orchestrates asynchronous job execution.
type Engine struct {
	store    store.Store
	registry *backend.Registry
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	slots   map[string]*semaphore.Weighted
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, reg *backend.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
		slots:    make(map[string]*semaphore.Weighted),
	}
}

// Submit stores j as pending and launches its execution in a goroutine.
// The goroutine operates on a copy of the job to avoid data races with the
// caller.
func (e *Engine) Submit(ctx context.Context, j *store.Job) error {
	if err := e.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[j.ID] = cancel
	e.mu.Unlock()

	jCopy := *j
	e.wg.Go(func() {
		defer e.release(jCopy.ID)
		e.execute(runCtx, &jCopy)
	})

	return nil
}

// Cancel moves a non-terminal job to cancelled and aborts its backend run.
// A job that already finished is returned unchanged.
func (e *Engine) Cancel(ctx context.Context, id string) (*store.Job, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return j, nil
	}

	err = e.store.UpdateJobStatus(ctx, id, model.StatusCancelled)
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		// Finished between the read and the write; report what won.
	case err != nil:
		return nil, fmt.Errorf("cancel job: %w", err)
	default:
		e.logger.Info("job cancelled", "job_id", id)
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	return e.store.GetJob(ctx, id)
}

// Wait blocks until all in-flight job goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown aborts every running job and waits for the goroutines to exit.
// Aborted jobs are left as they are in the store.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	delete(e.cancels, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// slot returns the concurrency limiter for b, or nil when b is unbounded.
func (e *Engine) slot(b backend.Backend) *semaphore.Weighted {
	caps := b.Capabilities()
	if caps.MaxConcurrency <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.slots[caps.Name]
	if !ok {
		sem = semaphore.NewWeighted(int64(caps.MaxConcurrency))
		e.slots[caps.Name] = sem
	}
	return sem
}

// execute runs the job lifecycle: pending→running→completed/failed/timeout.
// A concurrent Cancel wins over whatever this goroutine tries to write.
func (e *Engine) execute(ctx context.Context, j *store.Job) {
	// Unsupported languages fail fast, straight from pending.
	b, err := e.registry.Resolve(j.Language)
	if err != nil {
		e.finish(&store.Job{ID: j.ID, Status: model.StatusFailed, Error: err.Error()})
		return
	}

	// Jobs stay pending while their backend is at capacity.
	if slot := e.slot(b); slot != nil {
		if err := slot.Acquire(ctx, 1); err != nil {
			return
		}
		defer slot.Release(1)
	}

	if err := e.store.UpdateJobStatus(context.Background(), j.ID, model.StatusRunning); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			e.logger.Error("failed to transition to running", "job_id", j.ID, "error", err)
			e.finish(&store.Job{ID: j.ID, Status: model.StatusFailed, Error: fmt.Sprintf("failed to start: %v", err)})
		}
		return
	}

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across every outcome.
	start := time.Now().UTC()

	ttl := j.TTLSeconds
	if ttl <= 0 {
		ttl = model.DefaultTTLSeconds
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(ttl)*time.Second)
	defer cancel()

	spec := backend.ExecSpec{
		JobID:       j.ID,
		Language:    j.Language,
		Code:        j.Code,
		Stdin:       []byte(j.Stdin),
		Env:         j.Env,
		NetworkMode: j.NetworkMode,
		TTLSeconds:  ttl,
	}

	result, err := b.Execute(runCtx, spec)
	defer func() {
		if cerr := b.Cleanup(context.Background(), j.ID); cerr != nil {
			e.logger.Warn("backend cleanup failed", "job_id", j.ID, "error", cerr)
		}
	}()

	dur := time.Since(start).Milliseconds()
	if result.DurationMS > 0 {
		dur = result.DurationMS
	}

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			e.finish(&store.Job{
				ID:         j.ID,
				Status:     model.StatusTimeout,
				Error:      fmt.Sprintf("execution exceeded ttl of %ds", ttl),
				DurationMS: &dur,
				StartedAt:  &start,
			})
		case ctx.Err() != nil:
			// Cancelled through Cancel or Shutdown; the store already says so.
		default:
			e.finish(&store.Job{
				ID:         j.ID,
				Status:     model.StatusFailed,
				Error:      err.Error(),
				DurationMS: &dur,
				StartedAt:  &start,
			})
		}
		return
	}

	// A cancel that raced a successful run has already written the terminal
	// status; its artifacts are dropped.
	if ctx.Err() != nil {
		e.logger.Debug("discarding result of cancelled job", "job_id", j.ID, "files", len(result.Files))
		return
	}

	// Artifacts are stored before the terminal write so they are visible to
	// the first poll that sees the job finished.
	for _, f := range result.Files {
		a := &store.Artifact{JobID: j.ID, Name: f.Name, MimeType: f.MimeType}
		if err := e.store.PutArtifact(context.Background(), a, f.Content); err != nil {
			e.logger.Error("failed to store artifact", "job_id", j.ID, "name", f.Name, "error", err)
		}
	}

	exit := result.ExitCode
	e.finish(&store.Job{
		ID:         j.ID,
		Status:     model.StatusCompleted,
		Stdout:     string(result.Stdout),
		Stderr:     string(result.Stderr),
		ExitCode:   &exit,
		Error:      result.Error,
		DurationMS: &dur,
		StartedAt:  &start,
	})
}

// finish writes a terminal outcome. Losing to a concurrent cancel is expected
// and only logged at debug.
func (e *Engine) finish(j *store.Job) {
	err := e.store.FinishJob(context.Background(), j)
	switch {
	case err == nil:
		e.logger.Info("job finished", "job_id", j.ID, "status", j.Status)
	case errors.Is(err, store.ErrInvalidTransition):
		e.logger.Debug("job already terminal", "job_id", j.ID, "attempted", j.Status)
	default:
		e.logger.Error("failed to finish job", "job_id", j.ID, "status", j.Status, "error", err)
	}
}
