package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status_code"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status_code"},
	)
)

var (
	ListingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_listing_cache_lookups_total",
			Help: "Listing reader cache lookups by resource and result",
		},
		[]string{"resource", "result"},
	)

	ListingCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_listing_cache_invalidations_total",
			Help: "Listing reader cache entries removed by invalidation",
		},
		[]string{"resource"},
	)

	CartMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_cart_mutations_total",
			Help: "Cart mutations by operation and result",
		},
		[]string{"op", "result"},
	)

	CartSnapshotResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_cart_snapshot_resets_total",
			Help: "Corrupt cart snapshots replaced with an empty cart",
		},
	)
)

var (
	CheckoutAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_checkout_attempts_total",
			Help: "Total number of checkout attempts",
		},
	)

	CheckoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_checkout_outcomes_total",
			Help: "Checkout results by outcome",
		},
		[]string{"outcome"},
	)

	CheckoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketplace_checkout_duration_seconds",
			Help:    "Duration of a checkout run",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	PaymentIntents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_payment_intents_total",
			Help: "Payment intents created per seller group by result",
		},
		[]string{"result"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_outbox_published_total",
			Help: "Outbox events handed to Kafka by result",
		},
		[]string{"result"},
	)

	ListingUpdatesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_listing_updates_consumed_total",
			Help: "Listing update messages consumed by result",
		},
		[]string{"result"},
	)
)

func ObserveHTTP(route, method, status string, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}

func CacheHit(resource string) {
	ListingCacheLookups.WithLabelValues(resource, "hit").Inc()
}

func CacheMiss(resource string) {
	ListingCacheLookups.WithLabelValues(resource, "miss").Inc()
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
