package kafka

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of one consumed journey event.
const (
	resultEvicted     = "evicted"
	resultDuplicate   = "duplicate"
	resultMalformed   = "malformed"
	resultEvictFailed = "evict_failed"
)

type metricSet struct {
	events  *prometheus.CounterVec
	evictDu *prometheus.HistogramVec
	lag     *prometheus.GaugeVec
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_events_consumed_total",
			Help: "Journey change events consumed, by outcome.",
		}, []string{"result"}),
		evictDu: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journey_evict_seconds",
			Help:    "Time to drop the cached state of one journey.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		lag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "journey_event_lag_seconds",
			Help: "Age of the last consumed event, per partition.",
		}, []string{"partition"}),
	}
	if r != nil {
		r.MustRegister(m.events, m.evictDu, m.lag)
	}
	return m
}

func (m *metricSet) result(r string) { m.events.WithLabelValues(r).Inc() }

func (m *metricSet) evicted(op string, d time.Duration) {
	m.evictDu.WithLabelValues(op).Observe(d.Seconds())
}

func (m *metricSet) lagged(partition int32, produced time.Time) {
	if produced.IsZero() {
		return
	}
	m.lag.WithLabelValues(strconv.Itoa(int(partition))).Set(time.Since(produced).Seconds())
}
