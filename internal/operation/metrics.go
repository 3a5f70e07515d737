package operation

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "operation",
		Name:      "duration_seconds",
		Help:      "End-to-end latency per operation, labeled by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation", "outcome"})

	fullResyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "operation",
		Name:      "full_resync_total",
		Help:      "Responses that replaced the change list with a full profile snapshot.",
	}, []string{"profile"})
)

func init() {
	prometheus.MustRegister(operationDuration, fullResyncTotal)
}
