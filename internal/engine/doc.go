// Package engine provides the asynchronous job execution engine behind the
// stub service. It resolves a backend by language, enforces each job's ttl
// with a context deadline, honors cancellation, and records every outcome in
// the store.
package engine
