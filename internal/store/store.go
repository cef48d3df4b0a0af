package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/coderun/pkg/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound is returned when a job or artifact does not exist.
var ErrNotFound = errors.New("not found")

// Job is the persisted form of a job accepted by the stub service.
type Job struct {
	ID          string
	Status      model.JobStatus
	Language    string
	Code        string
	Stdin       string
	Env         map[string]string
	NetworkMode model.NetworkMode
	TTLSeconds  int

	Stdout     string
	Stderr     string
	ExitCode   *int
	Error      string
	DurationMS *int64

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Artifact describes a stored file produced by a job.
type Artifact struct {
	JobID     string
	Name      string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByLanguage map[string]int `json:"count_by_language"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for jobs and their artifacts.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*Job, int, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error
	FinishJob(ctx context.Context, j *Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	PutArtifact(ctx context.Context, a *Artifact, content []byte) error
	ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error)
	GetArtifact(ctx context.Context, jobID, name string) (*Artifact, []byte, error)
	Close() error
}
