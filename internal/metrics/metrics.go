// Package metrics exposes Prometheus counters for the resolution
// pipeline and the rate/cooldown governors. Registration is process
// global; counters are safe to touch from hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_cache_hits_total",
		Help: "Resolutions served from the in-memory cache",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_cache_misses_total",
		Help: "Resolutions that missed the in-memory cache",
	})
	OfflineHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_offline_hits_total",
		Help: "Resolutions served from the offline dataset",
	})
	UpstreamCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_upstream_calls_total",
		Help: "Outbound geocoding requests issued",
	})
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geowarp_upstream_failures_total",
		Help: "Outbound geocoding failures by kind",
	}, []string{"kind"})
	RateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geowarp_rate_rejections_total",
		Help: "Requests rejected by the per-actor governor",
	}, []string{"kind"})
	CooldownDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_cooldown_denials_total",
		Help: "Teleports denied by the durable cooldown ledger",
	})
	LedgerFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geowarp_ledger_flushes_total",
		Help: "Cooldown ledger batch flushes completed",
	})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
