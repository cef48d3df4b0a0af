package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel statuses for failures that never produced an HTTP response.
const (
	StatusNetworkError   = 0
	StatusPollingTimeout = http.StatusRequestTimeout
)

// Error codes produced by the client itself. Service-supplied codes
// (NOT_FOUND, INVALID_REQUEST, ...) are passed through verbatim.
const (
	CodeNetworkError    = "NETWORK_ERROR"
	CodePollingTimeout  = "POLLING_TIMEOUT"
	CodeHTTPError       = "HTTP_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidRequest  = "INVALID_REQUEST"
)

// ClientError is the single typed error returned by every client operation.
// Status is the HTTP status, or one of the sentinel statuses above.
type ClientError struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`

	err error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Status == StatusNetworkError {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *ClientError) Unwrap() error {
	return e.err
}

// Retryable reports whether repeating the same call at a higher layer may
// succeed. Network failures, rate limiting and 5xx responses qualify; a
// missing job or a rejected request does not.
func (e *ClientError) Retryable() bool {
	switch {
	case e.Code == CodeNetworkError:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= http.StatusInternalServerError:
		return true
	}
	return false
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(err error) *ClientError {
	return &ClientError{
		Status:  StatusNetworkError,
		Code:    CodeNetworkError,
		Message: err.Error(),
		err:     err,
	}
}

// NewAPIError builds an error for a non-2xx response. An empty code falls
// back to HTTP_ERROR and an empty message to the status text.
func NewAPIError(status int, code, message string, details json.RawMessage) *ClientError {
	if code == "" {
		code = CodeHTTPError
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &ClientError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewInvalidResponseError reports a 2xx response whose body could not be decoded.
func NewInvalidResponseError(status int, err error) *ClientError {
	return &ClientError{
		Status:  status,
		Code:    CodeInvalidResponse,
		Message: fmt.Sprintf("decode response: %v", err),
		err:     err,
	}
}

// NewPollingTimeoutError reports that the attempt ceiling was reached before
// the job reached a terminal status. The job may still be running remotely.
func NewPollingTimeoutError(jobID string, attempts int, last JobStatus) *ClientError {
	details, _ := json.Marshal(map[string]any{
		"job_id":      jobID,
		"attempts":    attempts,
		"last_status": last,
	})
	return &ClientError{
		Status:  StatusPollingTimeout,
		Code:    CodePollingTimeout,
		Message: fmt.Sprintf("job %s not terminal after %d polling attempts (last status %q)", jobID, attempts, last),
		Details: details,
	}
}

// AsClientError extracts a *ClientError from err's chain.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	ce, ok := AsClientError(err)
	return ok && ce.Status == http.StatusNotFound
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	ce, ok := AsClientError(err)
	return ok && ce.Code == CodeNetworkError
}

// IsPollingTimeout reports whether err means the client gave up waiting.
func IsPollingTimeout(err error) bool {
	ce, ok := AsClientError(err)
	return ok && ce.Code == CodePollingTimeout
}
