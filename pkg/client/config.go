package client

import "time"

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "coderun-client/1"

// Config holds connection settings for the execution service.
type Config struct {
	// BaseURL is the execution service root (e.g., "http://localhost:8080").
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout for each individual HTTP request. Defaults to 30s.
	// Independent of the job's server-side ttl and of the runner's poll cadence.
	Timeout time.Duration

	// UserAgent overrides the User-Agent header.
	UserAgent string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}
