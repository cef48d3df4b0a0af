package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/coderun/pkg/model"
)

const (
	// maxErrorBody caps how much of a non-2xx body is read for error mapping.
	maxErrorBody = 64 << 10

	// maxRawMessage caps the raw-text fallback message of an unparseable error body.
	maxRawMessage = 512
)

// errorBody is the service's JSON error shape. Older deployments send
// {"error": "..."} or {"error": {"message", "code"}} instead, so Error is
// decoded lazily.
type errorBody struct {
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
	Error   json.RawMessage `json:"error"`
}

// do performs one JSON round trip. body is marshaled when non-nil; out is
// decoded from a 2xx response when non-nil.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, endpoint, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewInvalidResponseError(resp.StatusCode, err)
	}
	return nil
}

// send executes req and maps every failure into a *model.ClientError. On
// success the caller owns the response body. authorize controls whether the
// API key is attached.
func (c *Client) send(req *http.Request, endpoint string, authorize bool) (*http.Response, error) {
	requestID := model.NewRequestID()
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-Request-Id", requestID)
	if authorize && c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Debug("execution service unreachable",
			"endpoint", endpoint,
			"request_id", requestID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, model.NewNetworkError(err)
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("execution service request",
		"endpoint", endpoint,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", duration.Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp)
	}
	return resp, nil
}

// mapHTTPError converts a non-2xx response into a ClientError. Bodies that
// are not JSON fall back to the raw text and the status-derived code.
func mapHTTPError(resp *http.Response) *model.ClientError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if len(data) > 0 && json.Unmarshal(data, &eb) == nil {
		message, code := eb.Message, eb.Code
		if message == "" || code == "" {
			m, c := legacyError(eb.Error)
			if message == "" {
				message = m
			}
			if code == "" {
				code = c
			}
		}
		if code == "" {
			code = codeForStatus(resp.StatusCode)
		}
		var details json.RawMessage
		if len(eb.Details) > 0 && string(eb.Details) != "null" {
			details = eb.Details
		}
		return model.NewAPIError(resp.StatusCode, code, message, details)
	}

	message := strings.TrimSpace(string(data))
	if len(message) > maxRawMessage {
		message = message[:maxRawMessage] + "..."
	}
	return model.NewAPIError(resp.StatusCode, codeForStatus(resp.StatusCode), message, nil)
}

// legacyError extracts message and code from an "error" field that is either
// a string or an object.
func legacyError(raw json.RawMessage) (message, code string) {
	if len(raw) == 0 {
		return "", ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, ""
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message, obj.Code
	}
	return "", ""
}

// codeForStatus supplies a machine-readable code when the service sent none.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.CodeInvalidRequest
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return model.CodeNotFound
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return model.CodeHTTPError
	}
}
