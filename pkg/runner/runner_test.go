package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/coderun/pkg/model"
)

// scriptedAPI replays a fixed sequence of GetStatus answers and counts calls.
type scriptedAPI struct {
	mu sync.Mutex

	submitJob *model.Job
	submitErr error

	// statuses are returned in order; the last one repeats.
	statuses []*model.Job
	errAt    int // 1-based GetStatus call that fails, 0 for never
	err      error

	cancelJob *model.Job
	cancelErr error

	submitCalls int
	statusCalls int
	cancelCalls int
	cancelCtxOK bool
	onStatus    func(call int)
}

func (s *scriptedAPI) Submit(_ context.Context, _ model.ExecutionRequest) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.submitJob, nil
}

func (s *scriptedAPI) GetStatus(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	s.statusCalls++
	call := s.statusCalls
	hook := s.onStatus
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if s.errAt != 0 && call == s.errAt {
		return nil, s.err
	}
	idx := call - 1
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	j := *s.statuses[idx]
	j.ID = jobID
	return &j, nil
}

func (s *scriptedAPI) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	s.cancelCtxOK = ctx.Err() == nil
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	if s.cancelJob != nil {
		return s.cancelJob, nil
	}
	return &model.Job{ID: jobID, Status: model.StatusCancelled}, nil
}

func (s *scriptedAPI) counts() (submit, status, cancel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls, s.statusCalls, s.cancelCalls
}

func st(status model.JobStatus) *model.Job {
	return &model.Job{Status: status}
}

func fastConfig(maxAttempts int) Config {
	return Config{
		PollInterval:  time.Millisecond,
		MaxAttempts:   maxAttempts,
		CancelTimeout: time.Second,
	}
}

var testReq = model.ExecutionRequest{Language: "python", Code: "print('hi')"}

func TestRunPendingRunningCompleted(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses: []*model.Job{
			st(model.StatusPending),
			st(model.StatusRunning),
			{Status: model.StatusCompleted, Result: &model.ExecutionResult{Success: true, Stdout: "hi\n"}},
		},
	}
	r := New(api, fastConfig(10), nil)

	job, err := r.Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.True(t, job.Succeeded())

	submit, status, cancel := api.counts()
	assert.Equal(t, 1, submit)
	assert.Equal(t, 3, status, "one poll per non-terminal observation plus the terminal one")
	assert.Equal(t, 0, cancel)
}

func TestRunStopsOnFirstTerminalObservation(t *testing.T) {
	for _, status := range []model.JobStatus{
		model.StatusFailed,
		model.StatusTimeout,
		model.StatusCancelled,
		model.StatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			api := &scriptedAPI{
				submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
				statuses:  []*model.Job{st(status)},
			}
			job, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
			require.NoError(t, err)
			assert.Equal(t, status, job.Status)

			submit, polls, _ := api.counts()
			assert.Equal(t, 1, submit)
			assert.Equal(t, 1, polls)
		})
	}
}

func TestRunSkipsPollingWhenSubmitIsTerminal(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusFailed},
		statuses:  []*model.Job{st(model.StatusRunning)},
	}
	job, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)

	_, polls, _ := api.counts()
	assert.Equal(t, 0, polls)
}

func TestRunCompletedProgramFailureIsNotAnError(t *testing.T) {
	msg := "NameError: name 'x' is not defined"
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses: []*model.Job{{
			Status: model.StatusCompleted,
			Result: &model.ExecutionResult{Success: false, Stderr: msg, Error: &msg, ExitCode: 1},
		}},
	}
	job, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.False(t, job.Result.Success)
	assert.False(t, job.Succeeded())
}

func TestRunExhaustsAfterExactlyMaxAttempts(t *testing.T) {
	for _, max := range []int{1, 3, 7} {
		api := &scriptedAPI{
			submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
			statuses:  []*model.Job{st(model.StatusRunning)},
		}
		job, err := New(api, fastConfig(max), nil).Run(context.Background(), testReq)
		assert.Nil(t, job)
		require.Error(t, err)

		ce, ok := model.AsClientError(err)
		require.True(t, ok)
		assert.Equal(t, model.StatusPollingTimeout, ce.Status)
		assert.Equal(t, model.CodePollingTimeout, ce.Code)
		assert.True(t, model.IsPollingTimeout(err))
		assert.Contains(t, string(ce.Details), `"last_status":"running"`)

		_, polls, cancels := api.counts()
		assert.Equal(t, max, polls)
		assert.Equal(t, 0, cancels, "exhaustion does not cancel the remote job")
	}
}

func TestRunPropagatesNotFoundImmediately(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		errAt:     2,
		err:       model.NewAPIError(http.StatusNotFound, model.CodeNotFound, "job expired", nil),
	}
	_, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.Error(t, err)

	ce, ok := model.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ce.Status)
	assert.Equal(t, model.CodeNotFound, ce.Code)

	_, polls, _ := api.counts()
	assert.Equal(t, 2, polls)
}

func TestRunPropagatesNetworkError(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		errAt:     1,
		err:       model.NewNetworkError(errors.New("connection refused")),
	}
	_, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.Error(t, err)
	assert.True(t, model.IsNetworkError(err))

	ce, _ := model.AsClientError(err)
	assert.Equal(t, model.StatusNetworkError, ce.Status)

	_, polls, _ := api.counts()
	assert.Equal(t, 1, polls)
}

func TestRunSubmitErrorSkipsPolling(t *testing.T) {
	api := &scriptedAPI{
		submitErr: model.NewAPIError(http.StatusBadRequest, model.CodeInvalidRequest, "ttl out of range", nil),
	}
	_, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.Error(t, err)

	ce, ok := model.AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeInvalidRequest, ce.Code)

	_, polls, _ := api.counts()
	assert.Equal(t, 0, polls)
}

func TestRunReturnsArtifactsUnmodified(t *testing.T) {
	artifacts := []model.Artifact{
		{Name: "plot.png", SizeBytes: 2048, MimeType: "image/png", DownloadURL: "/jobs/job-1/artifacts/plot.png"},
		{Name: "data.csv", SizeBytes: 10, MimeType: "text/csv"},
	}
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses: []*model.Job{{
			Status:    model.StatusCompleted,
			Result:    &model.ExecutionResult{Success: true},
			Artifacts: artifacts,
		}},
	}
	job, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Empty(t, job.Result.Stdout)
	assert.Equal(t, artifacts, job.Artifacts)
}

func TestRunUnknownStatusIsNotTerminal(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses: []*model.Job{
			st("queued"),
			st(model.StatusCompleted),
		},
	}
	job, err := New(api, fastConfig(10), nil).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)

	_, polls, _ := api.counts()
	assert.Equal(t, 2, polls)
}

func TestRunCallerAbortCancelsRemoteJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		onStatus: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}
	_, err := New(api, fastConfig(100), nil).Run(ctx, testReq)
	assert.ErrorIs(t, err, context.Canceled)

	_, polls, cancels := api.counts()
	assert.Equal(t, 2, polls)
	assert.Equal(t, 1, cancels)
	assert.True(t, api.cancelCtxOK, "remote cancel must not inherit the cancelled context")
}

func TestRunCallerAbortWithoutRemoteCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		onStatus: func(int) { cancel() },
	}
	cfg := fastConfig(100)
	cfg.SkipCancelOnAbort = true

	_, err := New(api, cfg, nil).Run(ctx, testReq)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, cancels := api.counts()
	assert.Equal(t, 0, cancels)
}

func TestRunAbortCancelFailureStillReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		cancelErr: model.NewNetworkError(errors.New("connection reset")),
	}
	cfg := fastConfig(100000)
	cfg.PollInterval = 5 * time.Millisecond

	_, err := New(api, cfg, nil).Run(ctx, testReq)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, _, cancels := api.counts()
	assert.Equal(t, 1, cancels)
}

func TestRunAbortCancelsWithPartialConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses:  []*model.Job{st(model.StatusRunning)},
		onStatus:  func(int) { cancel() },
	}

	_, err := New(api, Config{PollInterval: time.Millisecond}, nil).Run(ctx, testReq)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, cancels := api.counts()
	assert.Equal(t, 1, cancels)
}

func TestWait(t *testing.T) {
	api := &scriptedAPI{
		statuses: []*model.Job{
			st(model.StatusRunning),
			st(model.StatusTimeout),
		},
	}
	r := New(api, fastConfig(10), nil)

	job, err := r.Wait(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, "job-9", job.ID)
	assert.Equal(t, model.StatusTimeout, job.Status)

	submit, polls, _ := api.counts()
	assert.Equal(t, 0, submit)
	assert.Equal(t, 2, polls)

	_, err = r.Wait(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyJobID)
}

func TestPollIntervalIsHonoured(t *testing.T) {
	api := &scriptedAPI{
		submitJob: &model.Job{ID: "job-1", Status: model.StatusPending},
		statuses: []*model.Job{
			st(model.StatusRunning),
			st(model.StatusRunning),
			st(model.StatusCompleted),
		},
	}
	cfg := fastConfig(10)
	cfg.PollInterval = 20 * time.Millisecond

	start := time.Now()
	_, err := New(api, cfg, nil).Run(context.Background(), testReq)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(&scriptedAPI{}, Config{}, nil)
	cfg := r.Config()
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultCancelTimeout, cfg.CancelTimeout)
	assert.Equal(t, 60*time.Second, DefaultConfig().MaxWait())
}

func TestPreview(t *testing.T) {
	short := "print(1)"
	assert.Equal(t, short, preview(short))

	long := make([]rune, 200)
	for i := range long {
		long[i] = 'é'
	}
	got := preview(string(long))
	assert.Len(t, []rune(got), previewLen+3)
}
