package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_inference_requests_total",
			Help: "Chat completion requests by scoring mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vd_inference_duration_seconds",
			Help:    "Chat completion round trip duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_cache_hits_total",
			Help: "Detection result cache hits",
		},
		[]string{"layer"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vd_cache_misses_total",
			Help: "Detection result cache misses",
		},
		[]string{"layer"},
	)
)
