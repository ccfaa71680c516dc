package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "loads_total",
		Help:      "Successful model loads",
	})
	loadErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "load_errors_total",
		Help:      "Failed model loads",
	})
	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "load_duration_seconds",
		Help:      "Time to materialize a model",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
	})
	evictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "evictions_total",
		Help:      "Models evicted, by reason",
	}, []string{"reason"})
	idleUnloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "idle_unloads_total",
		Help:      "Models unloaded by the monitor for idleness",
	})
	modelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "models_loaded",
		Help:      "Models currently loaded",
	})
	memoryUsedMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "memory_used_mb",
		Help:      "Accounted memory of loaded and loading models",
	})
	hostMemoryRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "host_memory_utilization",
		Help:      "Last observed host memory utilisation (0-1)",
	})
	inferTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "inferences_total",
		Help:      "Generations by outcome",
	}, []string{"outcome"})
	inferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "inference_duration_seconds",
		Help:      "Generation latency",
		Buckets:   prometheus.DefBuckets,
	})
	backpressureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "manager",
		Name:      "backpressure_total",
		Help:      "Admission rejections, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadErrorsTotal, loadDuration, evictionsTotal, idleUnloadsTotal,
		modelsLoaded, memoryUsedMB, hostMemoryRatio, inferTotal, inferDuration, backpressureTotal)
}

func (m *Manager) refreshLoadedGauge() {
	m.mu.Lock()
	n := 0
	for _, inst := range m.instances {
		if inst.state == StateLoaded {
			n++
		}
	}
	m.mu.Unlock()
	modelsLoaded.Set(float64(n))
}
