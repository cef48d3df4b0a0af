package runner

import "github.com/prometheus/client_golang/prometheus"

// Run outcomes that are not job statuses.
const (
	outcomeError          = "error"
	outcomePollingTimeout = "polling_timeout"
	outcomeAborted        = "aborted"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderun_runs_total",
			Help: "Completed runs by outcome (terminal job status, error, polling_timeout or aborted).",
		},
		[]string{"outcome"},
	)

	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderun_run_poll_attempts",
			Help:    "Status polls issued per run.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, pollAttempts)
}
