// Package observability holds the service's Prometheus collectors. They are
// package-level so any component can record without plumbing; Init attaches
// them to a registry.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executions_total",
			Help: "Script executions by outcome and failure kind.",
		},
		[]string{"outcome", "kind"},
	)

	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_duration_seconds",
			Help:    "Wall time of script executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"outcome"},
	)

	executionLogEntries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execution_log_entries",
			Help:    "Console entries captured per execution.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)

	bridgeProtocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_protocol_errors_total",
			Help: "Worker messages that matched no pending or recently discarded request.",
		},
	)

	bridgeWorkerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_worker_restarts_total",
			Help: "Sandbox workers torn down, by reason.",
		},
		[]string{"reason"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	layerStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layerstore_op_duration_seconds",
			Help:    "Layer store operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	layerStoreOpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layerstore_op_errors_total",
			Help: "Layer store operation errors.",
		},
		[]string{"op"},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Execution events that could not be published.",
		},
		[]string{"reason"},
	)
)

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		executionsTotal,
		executionDurationSeconds,
		executionLogEntries,
		bridgeProtocolErrors,
		bridgeWorkerRestarts,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		layerStoreOpDuration,
		layerStoreOpErrors,
		eventsDropped,
	}
}

// Init registers the collectors on reg. Already-registered collectors are
// tolerated so Init can run once per registry.
func Init(reg prometheus.Registerer) {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, dup := err.(prometheus.AlreadyRegisteredError); !dup {
				panic(err)
			}
		}
	}
}

// ObserveExecution records one finished execution. kind is empty on success.
func ObserveExecution(success bool, kind string, d time.Duration, logEntries int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if kind == "" {
		kind = "none"
	}
	executionsTotal.WithLabelValues(outcome, kind).Inc()
	executionDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	executionLogEntries.Observe(float64(logEntries))
}

func IncProtocolError() { bridgeProtocolErrors.Inc() }

func IncWorkerRestart(reason string) {
	bridgeWorkerRestarts.WithLabelValues(reason).Inc()
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
		layerStoreOpErrors.WithLabelValues(op).Inc()
	}
	layerStoreOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

func IncEventDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}
