// Package service is the HTTP front of the stub execution service. It speaks
// the same wire contract as the hosted sandbox (submit, poll, cancel,
// artifacts, languages, health) so the client and runner can be exercised
// end to end without one.
package service
