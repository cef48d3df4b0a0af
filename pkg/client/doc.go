// Package client is the HTTP client for the remote code execution service.
//
// Each method maps to exactly one endpoint and performs a single round trip
// with no retries of its own:
//
//	POST /execute/async          Submit
//	GET  /jobs/{id}              GetStatus
//	POST /jobs/{id}/cancel       Cancel
//	GET  /jobs/{id}/artifacts    ListArtifacts
//	GET  /languages              ListLanguages
//	GET  /health                 HealthCheck
//
// Every failure is reported as a *model.ClientError: transport failures carry
// status 0 and code NETWORK_ERROR, non-2xx responses carry the HTTP status and
// the service's machine-readable code. The client keeps no job state between
// calls, so GetStatus is safe to call concurrently and repeatedly.
package client
