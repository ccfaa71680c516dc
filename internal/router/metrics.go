package router

import "github.com/prometheus/client_golang/prometheus"

var (
	routesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelrouter",
			Name:      "routes_total",
			Help:      "Routing decisions by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	routeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modelrouter",
			Name:      "route_duration_seconds",
			Help:      "Time spent classifying and routing a query.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelrouter",
			Name:      "query_results_total",
			Help:      "Served query results by subject and outcome.",
		},
		[]string{"subject", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(routesTotal, routeDuration, resultsTotal)
}
