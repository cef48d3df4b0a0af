package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/coderun/internal/store"
	"github.com/seantiz/coderun/pkg/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	codeInternal = "INTERNAL_ERROR"
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []model.Job `json:"jobs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type listArtifactsResponse struct {
	Artifacts []model.Artifact `json:"artifacts"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.storeError(w, "get job", err)
		return
	}

	arts, err := s.store.ListArtifacts(r.Context(), id)
	if err != nil {
		s.storeError(w, "list artifacts", err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshot(j, arts))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.storeError(w, "list jobs", err)
		return
	}

	out := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, snapshot(j, nil))
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.engine.Cancel(r.Context(), id)
	if err != nil {
		s.storeError(w, "cancel job", err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshot(j, nil))
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.storeError(w, "get job", err)
		return
	}
	arts, err := s.store.ListArtifacts(r.Context(), id)
	if err != nil {
		s.storeError(w, "list artifacts", err)
		return
	}

	s.writeJSON(w, http.StatusOK, listArtifactsResponse{Artifacts: toArtifacts(id, arts)})
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	a, content, err := s.store.GetArtifact(r.Context(), id, name)
	if err != nil {
		s.storeError(w, "get artifact", err)
		return
	}

	mt := a.MimeType
	if mt == "" {
		mt = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.logger.Error("write artifact", "job_id", id, "name", name, "error", err)
	}
}

// snapshot converts a stored job into its wire form. The result is attached
// once the job reached a result-bearing terminal status.
func snapshot(j *store.Job, arts []store.Artifact) model.Job {
	out := model.Job{
		ID:              j.ID,
		Status:          j.Status,
		ExecutionTimeMs: j.DurationMS,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.FinishedAt,
	}
	if len(arts) > 0 {
		out.Artifacts = toArtifacts(j.ID, arts)
	}

	switch j.Status {
	case model.StatusCompleted, model.StatusFailed, model.StatusTimeout:
	default:
		return out
	}

	res := &model.ExecutionResult{
		Stdout:   j.Stdout,
		Stderr:   j.Stderr,
		Language: j.Language,
		ExitCode: -1,
	}
	if j.ExitCode != nil {
		res.ExitCode = *j.ExitCode
	}
	if j.Error != "" {
		msg := j.Error
		res.Error = &msg
	}
	res.Success = j.Status == model.StatusCompleted && res.ExitCode == 0 && res.Error == nil
	out.Result = res
	return out
}

func toArtifacts(jobID string, arts []store.Artifact) []model.Artifact {
	out := make([]model.Artifact, 0, len(arts))
	for _, a := range arts {
		out = append(out, model.Artifact{
			Name:        a.Name,
			SizeBytes:   a.SizeBytes,
			MimeType:    a.MimeType,
			DownloadURL: "/jobs/" + url.PathEscape(jobID) + "/artifacts/" + url.PathEscape(a.Name),
		})
	}
	return out
}

// storeError maps store sentinels onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, model.CodeNotFound, "job or artifact not found")
	case errors.Is(err, store.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to "+op)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Message: message, Code: code})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
