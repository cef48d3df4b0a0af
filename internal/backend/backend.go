package backend

import (
	"context"

	"github.com/seantiz/coderun/pkg/model"
)

// Backend is the interface every execution backend implements. The stub
// service ships a scripted backend; real sandboxes live behind the same
// interface.
type Backend interface {
	// Execute runs a job according to the given spec and returns the result.
	// The context carries the job's ttl deadline and cancellation.
	Execute(ctx context.Context, spec ExecSpec) (ExecResult, error)

	// Capabilities reports which languages this backend serves.
	Capabilities() Capabilities

	// Cleanup releases any resources associated with the given job.
	Cleanup(ctx context.Context, jobID string) error
}

// ExecSpec describes one execution handed to a backend.
type ExecSpec struct {
	JobID       string            `json:"job_id"`
	Language    string            `json:"language"`
	Code        string            `json:"code"`
	Stdin       []byte            `json:"stdin,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	NetworkMode model.NetworkMode `json:"network"`
	TTLSeconds  int               `json:"ttl"`
}

// ExecResult holds what a backend produced. A non-zero ExitCode is a program
// failure, not a backend error.
type ExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     []byte `json:"stdout"`
	Stderr     []byte `json:"stderr"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Files      []File `json:"files,omitempty"`
}

// File is an artifact produced during execution.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"-"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name           string           `json:"name"`
	Languages      []model.Language `json:"languages"`
	MaxConcurrency int              `json:"max_concurrency"`
}
