package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *ClientError
		want string
	}{
		{
			"api error",
			NewAPIError(http.StatusNotFound, CodeNotFound, "job not found", nil),
			"NOT_FOUND (HTTP 404): job not found",
		},
		{
			"network error",
			NewNetworkError(errors.New("connection refused")),
			"NETWORK_ERROR: connection refused",
		},
		{
			"fallback code and message",
			NewAPIError(http.StatusBadGateway, "", "", nil),
			"HTTP_ERROR (HTTP 502): Bad Gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNetworkErrorUnwraps(t *testing.T) {
	err := NewNetworkError(fmt.Errorf("dial: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusNetworkError, err.Status)
}

func TestPollingTimeoutError(t *testing.T) {
	err := NewPollingTimeoutError("job-1", 60, StatusRunning)
	assert.Equal(t, StatusPollingTimeout, err.Status)
	assert.Equal(t, CodePollingTimeout, err.Code)

	var details map[string]any
	require.NoError(t, json.Unmarshal(err.Details, &details))
	assert.Equal(t, "job-1", details["job_id"])
	assert.EqualValues(t, 60, details["attempts"])
	assert.Equal(t, "running", details["last_status"])
}

func TestErrorPredicates(t *testing.T) {
	notFound := fmt.Errorf("get status: %w", NewAPIError(http.StatusNotFound, CodeNotFound, "gone", nil))
	network := NewNetworkError(errors.New("reset"))
	polling := NewPollingTimeoutError("j", 3, StatusPending)

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(network))
	assert.True(t, IsNetworkError(network))
	assert.False(t, IsNetworkError(polling))
	assert.True(t, IsPollingTimeout(polling))
	assert.False(t, IsPollingTimeout(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ClientError
		want bool
	}{
		{"network", NewNetworkError(errors.New("x")), true},
		{"rate limited", NewAPIError(http.StatusTooManyRequests, "", "", nil), true},
		{"server error", NewAPIError(http.StatusServiceUnavailable, "", "", nil), true},
		{"not found", NewAPIError(http.StatusNotFound, CodeNotFound, "", nil), false},
		{"bad request", NewAPIError(http.StatusBadRequest, CodeInvalidRequest, "", nil), false},
		{"polling timeout", NewPollingTimeoutError("j", 1, StatusRunning), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}
