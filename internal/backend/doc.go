// Package backend defines the interface execution backends implement, the
// registry that routes a job to a backend by language, and a scripted
// backend used by the stub service and tests.
package backend
