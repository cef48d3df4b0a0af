// Package runner drives a submitted job to a terminal status by polling the
// execution service at a fixed cadence with a bounded number of attempts.
//
// A run is a sequential series of round trips interleaved with timed waits.
// It holds no locks and keeps no job state between polls; every observation
// is a fresh read from the service.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/coderun/pkg/model"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultPollInterval  = time.Second
	DefaultMaxAttempts   = 60
	DefaultCancelTimeout = 5 * time.Second
)

// ErrEmptyJobID is returned by Wait when called without a job ID.
var ErrEmptyJobID = errors.New("runner: job id is required")

// JobAPI is the subset of the job client the runner depends on.
type JobAPI interface {
	Submit(ctx context.Context, req model.ExecutionRequest) (*model.Job, error)
	GetStatus(ctx context.Context, jobID string) (*model.Job, error)
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
}

// Config controls the client-side poll cadence. It is independent of the
// job's ttl, which bounds execution on the service.
type Config struct {
	// PollInterval is the wait before each status poll.
	PollInterval time.Duration
	// MaxAttempts is the number of status polls before giving up.
	MaxAttempts int
	// SkipCancelOnAbort disables the best-effort remote cancel issued when
	// the caller's context ends mid-run. The zero value keeps it enabled.
	SkipCancelOnAbort bool
	// CancelTimeout bounds that remote cancel call.
	CancelTimeout time.Duration
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		MaxAttempts:   DefaultMaxAttempts,
		CancelTimeout: DefaultCancelTimeout,
	}
}

// MaxWait is the worst-case time spent waiting between polls, excluding the
// round trips themselves.
func (c Config) MaxWait() time.Duration {
	return c.PollInterval * time.Duration(c.MaxAttempts)
}

// Runner runs jobs to completion. It is safe for concurrent use; each Run or
// Wait call is independent.
type Runner struct {
	api    JobAPI
	cfg    Config
	logger *slog.Logger
}

// New creates a Runner. Zero-valued Config fields take their defaults; a nil
// logger discards output.
func New(api JobAPI, cfg Config, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{api: api, cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run submits req and polls until the job reaches a terminal status.
//
// Every terminal status is returned as a normal result, including failed,
// timeout, cancelled and completed with an unsuccessful program run. Errors
// are reserved for protocol failures: a *model.ClientError from the service
// or transport, POLLING_TIMEOUT once MaxAttempts polls saw no terminal
// status, or ctx.Err() when the caller gave up.
func (r *Runner) Run(ctx context.Context, req model.ExecutionRequest) (*model.Job, error) {
	job, err := r.api.Submit(ctx, req)
	if err != nil {
		runsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	r.logger.Info("job submitted",
		"job_id", job.ID,
		"language", req.Language,
		"status", job.Status,
		"code_preview", preview(req.Code),
	)

	if job.Terminal() {
		r.finish(job, 0)
		return job, nil
	}
	return r.poll(ctx, job.ID, job.Status)
}

// Wait polls an already submitted job until it reaches a terminal status.
// It follows the same rules as Run.
func (r *Runner) Wait(ctx context.Context, jobID string) (*model.Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	return r.poll(ctx, jobID, "")
}

func (r *Runner) poll(ctx context.Context, jobID string, last model.JobStatus) (*model.Job, error) {
	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, r.abort(ctx, jobID, attempt-1)
		}
		select {
		case <-ctx.Done():
			return nil, r.abort(ctx, jobID, attempt-1)
		case <-timer.C:
		}

		job, err := r.api.GetStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, r.abort(ctx, jobID, attempt)
			}
			runsTotal.WithLabelValues(outcomeError).Inc()
			pollAttempts.Observe(float64(attempt))
			r.logger.Warn("status poll failed", "job_id", jobID, "attempt", attempt, "error", err)
			return nil, err
		}

		if job.Terminal() {
			r.finish(job, attempt)
			return job, nil
		}
		if !job.Status.Valid() {
			r.logger.Warn("unknown job status, continuing to poll", "job_id", jobID, "status", job.Status)
		}

		r.logger.Debug("job not terminal", "job_id", jobID, "status", job.Status, "attempt", attempt)
		last = job.Status
		if attempt < r.cfg.MaxAttempts {
			timer.Reset(r.cfg.PollInterval)
		}
	}

	runsTotal.WithLabelValues(outcomePollingTimeout).Inc()
	pollAttempts.Observe(float64(r.cfg.MaxAttempts))
	r.logger.Warn("polling attempts exhausted",
		"job_id", jobID,
		"attempts", r.cfg.MaxAttempts,
		"last_status", last,
	)
	return nil, model.NewPollingTimeoutError(jobID, r.cfg.MaxAttempts, last)
}

func (r *Runner) finish(job *model.Job, attempts int) {
	runsTotal.WithLabelValues(string(job.Status)).Inc()
	pollAttempts.Observe(float64(attempts))

	attrs := []any{"job_id", job.ID, "status", job.Status, "polls", attempts}
	if job.Result != nil {
		attrs = append(attrs, "success", job.Result.Success, "exit_code", job.Result.ExitCode)
	}
	if job.ExecutionTimeMs != nil {
		attrs = append(attrs, "execution_time_ms", *job.ExecutionTimeMs)
	}
	r.logger.Info("job finished", attrs...)
}

// abort handles a caller cancellation. The remote cancel runs on a fresh
// context because ctx is already done.
func (r *Runner) abort(ctx context.Context, jobID string, attempts int) error {
	runsTotal.WithLabelValues(outcomeAborted).Inc()
	pollAttempts.Observe(float64(attempts))

	if !r.cfg.SkipCancelOnAbort {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CancelTimeout)
		defer cancel()
		job, err := r.api.Cancel(cctx, jobID)
		if err != nil {
			r.logger.Warn("best-effort cancel failed", "job_id", jobID, "error", err)
		} else {
			r.logger.Info("job cancelled after caller abort", "job_id", jobID, "status", job.Status)
		}
	}
	return ctx.Err()
}

const previewLen = 120

func preview(code string) string {
	r := []rune(code)
	if len(r) <= previewLen {
		return code
	}
	return string(r[:previewLen]) + "..."
}
