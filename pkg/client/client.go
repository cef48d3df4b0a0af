package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/seantiz/coderun/pkg/model"
)

// ErrEmptyJobID is returned when a job operation is called without an ID.
var ErrEmptyJobID = errors.New("job id is required")

// Client calls the execution service's REST API. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client whose transport, jar and redirect
// policy are used. The client keeps its own copy; hc itself is never
// modified, and Config.Timeout applies to the copy only.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the structured logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a new Client with the given configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid BaseURL %q", cfg.BaseURL)
	}

	// Normalize: remove trailing slash from base URL.
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	hc.Timeout = cfg.Timeout
	c.http = &hc

	return c, nil
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Submit sends an execution request and returns the initial job snapshot.
// Unset network mode and ttl are defaulted; other values pass through and
// out-of-range values come back as an API error from the service.
func (c *Client) Submit(ctx context.Context, req model.ExecutionRequest) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, "submit", http.MethodPost, "/execute/async", req.WithDefaults(), &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, model.NewInvalidResponseError(http.StatusOK, errors.New("submit response has no job_id"))
	}
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	return &job, nil
}

// GetStatus fetches the current snapshot of a job. It is a pure read.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	var job model.Job
	if err := c.do(ctx, "get_status", http.MethodGet, jobPath(jobID, ""), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel asks the service to cancel a job and returns whatever status the
// service reports, which is usually but not necessarily "cancelled".
func (c *Client) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	var job model.Job
	if err := c.do(ctx, "cancel", http.MethodPost, jobPath(jobID, "/cancel"), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListArtifacts returns the files a job produced. The result is never nil.
func (c *Client) ListArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	var resp struct {
		Artifacts []model.Artifact `json:"artifacts"`
	}
	if err := c.do(ctx, "list_artifacts", http.MethodGet, jobPath(jobID, "/artifacts"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Artifacts == nil {
		return []model.Artifact{}, nil
	}
	return resp.Artifacts, nil
}

// ListLanguages fetches the service's language catalog. Both a bare array
// and an object with a "languages" field are accepted.
func (c *Client) ListLanguages(ctx context.Context) ([]model.Language, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list_languages", http.MethodGet, "/languages", nil, &raw); err != nil {
		return nil, err
	}

	var langs []model.Language
	if err := json.Unmarshal(raw, &langs); err == nil {
		return langs, nil
	}
	var wrapped struct {
		Languages []model.Language `json:"languages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, model.NewInvalidResponseError(http.StatusOK, err)
	}
	return wrapped.Languages, nil
}

// HealthCheck reports whether the service answered /health with a 2xx.
// It never returns an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil); err != nil {
		c.logger.Debug("health check failed", "error", err)
		return false
	}
	return true
}

// DownloadArtifact streams an artifact's content into w and returns the
// number of bytes written. Relative download URLs are resolved against the
// base URL; the API key is only sent to the service's own host.
func (c *Client) DownloadArtifact(ctx context.Context, a model.Artifact, w io.Writer) (int64, error) {
	if a.DownloadURL == "" {
		return 0, fmt.Errorf("artifact %q has no download url", a.Name)
	}
	target, sameHost, err := c.resolve(a.DownloadURL)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.send(req, "download_artifact", sameHost)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, model.NewNetworkError(err)
	}
	return n, nil
}

// resolve turns a possibly relative URL into an absolute one and reports
// whether it points at the configured service host.
func (c *Client) resolve(ref string) (string, bool, error) {
	base, err := url.Parse(c.cfg.BaseURL + "/")
	if err != nil {
		return "", false, fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false, fmt.Errorf("parse download url %q: %w", ref, err)
	}
	if !u.IsAbs() {
		// Keep any base path prefix: "/jobs/x" joins to "<base>/jobs/x".
		u = base.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery})
	}
	return u.String(), u.Host == base.Host, nil
}

func jobPath(jobID, suffix string) string {
	return "/jobs/" + url.PathEscape(jobID) + suffix
}
