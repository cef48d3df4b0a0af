package catalog

import "github.com/prometheus/client_golang/prometheus"

var fetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coderun_catalog_fetches_total",
		Help: "Language catalog fetches by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(fetchesTotal)
}
