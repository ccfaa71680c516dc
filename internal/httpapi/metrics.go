package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Request metrics carry the resolved chi pattern, never the raw path, so model
// ids in /models/{id}/... do not explode label cardinality.
var requestLabels = []string{"route", "method", "code"}

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status code.",
	}, requestLabels)

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelrouter",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency. Query requests include routing and generation.",
		Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 15, 30, 60, 120},
	}, requestLabels)

	httpResponseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelrouter",
		Subsystem: "http",
		Name:      "response_bytes",
		Help:      "Response body size by route pattern.",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	}, []string{"route"})

	httpInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "modelrouter",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "In-flight HTTP requests by API surface (query, models, ops).",
	}, []string{"surface"})

	backpressureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "http",
		Name:      "backpressure_total",
		Help:      "Requests answered with 429, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpResponseBytes, httpInflight, backpressureTotal)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// MetricsMiddleware instruments requests for Prometheus. The route label is
// read after the handler ran, once chi has resolved the pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight := httpInflight.WithLabelValues(surfaceOf(r.URL.Path))
		inflight.Inc()
		defer inflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		route := routePattern(r)
		code := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method, code).Observe(time.Since(start).Seconds())
		httpResponseBytes.WithLabelValues(route).Observe(float64(sr.bytes))
	})
}

// routePattern returns the chi pattern for r. Requests that matched no route
// share one label value instead of leaking arbitrary paths.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
		return "unmatched"
	}
	return r.URL.Path
}

func surfaceOf(path string) string {
	switch {
	case path == "/query":
		return "query"
	case path == "/models" || strings.HasPrefix(path, "/models/"):
		return "models"
	default:
		return "ops"
	}
}

// IncrementBackpressure counts a 429 response by reason.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}
