package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/coderun/internal/store"
	"github.com/seantiz/coderun/pkg/model"
)

const maxTTLSeconds = 300

// submitResponse is the 202 body of POST /execute/async.
type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

func (s *Server) handleExecuteAsync(w http.ResponseWriter, r *http.Request) {
	var req model.ExecutionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, "invalid JSON body")
		return
	}

	req = req.WithDefaults()
	if msg := validateRequest(req); msg != "" {
		s.writeError(w, http.StatusBadRequest, model.CodeInvalidRequest, msg)
		return
	}

	j := &store.Job{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		Language:    req.Language,
		Code:        req.Code,
		Stdin:       req.Stdin,
		Env:         req.Env,
		NetworkMode: req.NetworkMode,
		TTLSeconds:  req.TTLSeconds,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.engine.Submit(r.Context(), j); err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, codeInternal, "failed to submit job")
		return
	}
	jobsSubmitted.WithLabelValues(j.Language).Inc()

	s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: j.ID, Status: j.Status})
}

// validateRequest returns a message describing the first problem with req,
// or "" when it is acceptable. Defaults must already be applied.
func validateRequest(req model.ExecutionRequest) string {
	switch {
	case req.Language == "":
		return "language is required"
	case req.Code == "":
		return "code is required"
	case !req.NetworkMode.Valid():
		return fmt.Sprintf("network must be %q or %q", model.NetworkZeroTrust, model.NetworkSemiTrust)
	case req.TTLSeconds < 1 || req.TTLSeconds > maxTTLSeconds:
		return fmt.Sprintf("ttl must be between 1 and %d seconds", maxTTLSeconds)
	}
	return ""
}
