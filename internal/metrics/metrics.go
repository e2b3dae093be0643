package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LinkCreationsTotal is labelled by result: created, existing, or an error code
	LinkCreationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_creations_total",
			Help: "Total number of link creation attempts by result",
		},
		[]string{"result"},
	)

	LinkResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_resolutions_total",
			Help: "Total number of link resolutions by result",
		},
		[]string{"result"},
	)

	ClickIncrementFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_click_increment_failures_total",
			Help: "Click increments that failed and were swallowed",
		},
	)

	CodeCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_code_collisions_total",
			Help: "Generated codes rejected because they were already taken",
		},
	)

	ExpiredLinksPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "link_expired_purged_total",
			Help: "Expired links removed by the sweeper",
		},
	)

	// BloomMissesTotal counts filter misses: absent when the store agreed,
	// stale when the code existed anyway
	BloomMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_bloom_misses_total",
			Help: "Bloom filter misses on resolve by outcome",
		},
		[]string{"outcome"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_cache_lookups_total",
			Help: "Resolve cache lookups by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordHTTP records metrics for an HTTP request
func RecordHTTP(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
