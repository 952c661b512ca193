// Package observability holds the service's Prometheus collectors and the
// helpers that update them.
package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
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

	areaComputeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "area_compute_seconds",
			Help:    "Time to reduce one bitmap to an area.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"strategy"},
	)

	areaComputeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_compute_total",
			Help: "Area computations by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	areaBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_blocks_total",
			Help: "Coverage blocks visited by area computations.",
		},
		[]string{"strategy"},
	)

	areaCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "area_cache_results_total",
			Help: "Area cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	importWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_warnings_total",
			Help: "Sync archive entries or blocks skipped during import.",
		},
		[]string{"reason"},
	)

	redisOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_op_seconds",
			Help:    "Latency of Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "outcome"},
	)
)

// Collectors lists every collector of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		areaComputeSeconds,
		areaComputeTotal,
		areaBlocksTotal,
		areaCacheResults,
		importWarnings,
		redisOpSeconds,
	}
}

// Init registers the collectors with reg. Registering twice with the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// AreaObserver feeds area computations into the area_* metrics.
type AreaObserver struct{}

func (AreaObserver) ObserveArea(strategy string, blocks int, dur time.Duration, err error) {
	areaComputeTotal.WithLabelValues(strategy, outcome(err)).Inc()
	if err != nil {
		return
	}
	areaComputeSeconds.WithLabelValues(strategy).Observe(dur.Seconds())
	areaBlocksTotal.WithLabelValues(strategy).Add(float64(blocks))
}

// Cache tiers.
const (
	TierLocal = "local"
	TierRedis = "redis"
)

func IncAreaCacheHit(tier string) {
	areaCacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncAreaCacheMiss(tier string) {
	areaCacheResults.WithLabelValues(tier, "miss").Inc()
}

func AddImportWarning(reason string) {
	importWarnings.WithLabelValues(reason).Inc()
}

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	redisOpSeconds.WithLabelValues(op, outcome(err)).Observe(durationSeconds)
}
