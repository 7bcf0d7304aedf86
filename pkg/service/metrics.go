package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transgate_requests_total",
			Help: "Total number of translate/detect requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transgate_retries_total",
			Help: "Total number of retries scheduled after transient upstream failures",
		},
		[]string{"operation"},
	)

	truncationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transgate_truncations_total",
			Help: "Total number of translate requests whose text was truncated",
		},
	)
)

func recordOutcome(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	requestsTotal.WithLabelValues(operation, outcome).Inc()
}
