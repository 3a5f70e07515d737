package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	loadLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "store",
		Name:      "load_seconds",
		Help:      "Latency for loading account aggregates.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{})

	saveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "store",
		Name:      "save_seconds",
		Help:      "Latency for saving account aggregates.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{})

	storeTracer = otel.Tracer("github.com/example/profile-sync-engine/store")
)

func init() {
	prometheus.MustRegister(loadLatency, saveLatency)
}
