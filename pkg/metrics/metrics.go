// Package metrics holds the Prometheus collectors for the queue server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotiqueue_admissions_total",
			Help: "Admission decisions, by entry point and outcome.",
		},
		[]string{"entry", "outcome"},
	)

	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotiqueue_votes_total",
			Help: "Vote operations, by result (added, changed, removed).",
		},
		[]string{"result"},
	)

	PrequeueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotiqueue_prequeue_transitions_total",
			Help: "Prequeue entries leaving pending, by target status.",
		},
		[]string{"status"},
	)

	QueueCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spotiqueue_queue_cache_hits_total",
			Help: "Queue snapshot reads served from cache.",
		},
	)

	QueueCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spotiqueue_queue_cache_misses_total",
			Help: "Queue snapshot reads that fetched upstream.",
		},
	)

	QueueStaleServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spotiqueue_queue_stale_served_total",
			Help: "Queue snapshot reads answered with a stale value after an upstream failure.",
		},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotiqueue_upstream_errors_total",
			Help: "Catalog capability failures, by operation.",
		},
		[]string{"op"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotiqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route, method and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		Admissions,
		VotesTotal,
		PrequeueTransitions,
		QueueCacheHits,
		QueueCacheMisses,
		QueueStaleServed,
		UpstreamErrors,
		RequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
