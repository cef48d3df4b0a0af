package model

import "time"

// JobStatus is the server-reported lifecycle state of a job.
type JobStatus string

// Job status constants.
const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimeout   JobStatus = "timeout"
	StatusCancelled JobStatus = "cancelled"
)

// NetworkMode controls whether submitted code may reach outbound network resources.
type NetworkMode string

// Network trust modes.
const (
	NetworkZeroTrust NetworkMode = "zerotrust"
	NetworkSemiTrust NetworkMode = "semitrust"
)

// Submission defaults applied by ExecutionRequest.WithDefaults.
const (
	DefaultNetworkMode = NetworkZeroTrust
	DefaultTTLSeconds  = 30
)

// validTransitions maps each non-terminal status to the set of statuses it may
// transition to. Terminal statuses have no entry: they are absorbing.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to JobStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether no further state change can follow s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the six known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning:
		return true
	}
	return s.IsTerminal()
}

// Valid reports whether m is a known network trust mode.
func (m NetworkMode) Valid() bool {
	return m == NetworkZeroTrust || m == NetworkSemiTrust
}

// ExecutionRequest is the body of POST /execute/async.
type ExecutionRequest struct {
	Language    string            `json:"language"`
	Code        string            `json:"code"`
	Stdin       string            `json:"stdin,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	NetworkMode NetworkMode       `json:"network,omitempty"`
	TTLSeconds  int               `json:"ttl,omitempty"`
}

// WithDefaults returns a copy of r with unset network mode and ttl filled in.
// Values that are set are passed through untouched, even when out of range;
// range checks belong to the service.
func (r ExecutionRequest) WithDefaults() ExecutionRequest {
	if r.NetworkMode == "" {
		r.NetworkMode = DefaultNetworkMode
	}
	if r.TTLSeconds == 0 {
		r.TTLSeconds = DefaultTTLSeconds
	}
	if r.Env != nil {
		env := make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			env[k] = v
		}
		r.Env = env
	}
	return r
}

// ExecutionResult is the program-level outcome carried by a terminal job.
// Success describes the program run, not the platform: a completed job may
// carry Success=false.
type ExecutionResult struct {
	Success  bool    `json:"success"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Error    *string `json:"error,omitempty"`
	Language string  `json:"language,omitempty"`
	ExitCode int     `json:"exitCode"`
}

// Artifact is a file produced during execution.
type Artifact struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size"`
	MimeType    string `json:"mimeType,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Job is one snapshot of a server-tracked execution. The client never
// mutates or caches it; each GetStatus returns a fresh snapshot.
type Job struct {
	ID              string           `json:"job_id"`
	Status          JobStatus        `json:"status"`
	Result          *ExecutionResult `json:"result,omitempty"`
	Artifacts       []Artifact       `json:"artifacts,omitempty"`
	ExecutionTimeMs *int64           `json:"executionTime,omitempty"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has reached an absorbing status.
func (j *Job) Terminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// Succeeded reports whether the platform completed the job and the program
// itself reported success.
func (j *Job) Succeeded() bool {
	return j != nil && j.Status == StatusCompleted && j.Result != nil && j.Result.Success
}

// Language describes one execution language offered by the service.
type Language struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Runtime  string `json:"runtime,omitempty"`
	Version  string `json:"version,omitempty"`
}
