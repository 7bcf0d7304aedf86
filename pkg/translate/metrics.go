package translate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream call metrics
	upstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transgate_upstream_calls_total",
			Help: "Total number of calls made to the upstream translation engine",
		},
		[]string{"engine", "operation", "status"},
	)

	upstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transgate_upstream_duration_seconds",
			Help:    "Duration of upstream translation engine calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"engine", "operation", "status"},
	)

	upstreamRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transgate_upstream_request_size_bytes",
			Help:    "Size of text sent to the upstream translation engine in bytes",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 20000},
		},
		[]string{"engine", "operation"},
	)
)

// MetricsCollector records upstream call metrics for one engine.
type MetricsCollector struct {
	engine string
}

// NewMetricsCollector creates a collector labelled with the engine name.
func NewMetricsCollector(engine string) *MetricsCollector {
	return &MetricsCollector{engine: engine}
}

// RecordCall records one upstream call.
func (mc *MetricsCollector) RecordCall(operation string, duration time.Duration, success bool, requestSize int) {
	status := "success"
	if !success {
		status = "error"
	}

	upstreamCallsTotal.WithLabelValues(mc.engine, operation, status).Inc()
	upstreamCallDuration.WithLabelValues(mc.engine, operation, status).Observe(duration.Seconds())
	upstreamRequestSize.WithLabelValues(mc.engine, operation).Observe(float64(requestSize))
}
