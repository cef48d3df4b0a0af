package model

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new job identifier. Only the service assigns job IDs;
// clients treat them as opaque strings.
func NewID() string {
	return ulid.Make().String()
}

// NewRequestID generates a correlation ID for one HTTP round trip.
func NewRequestID() string {
	return "req_" + strings.ToLower(ulid.Make().String())
}
