package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RefreshTotal    *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	BaselineSource  *prometheus.CounterVec
	SchedulerFires  *prometheus.CounterVec
	SnapshotAge     prometheus.Gauge
	DispatchDropped prometheus.Counter
	LastRate        *prometheus.GaugeVec
}

// New registers collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bullionwatch_refresh_total",
				Help: "Refresh cycles by outcome",
			},
			[]string{"outcome"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bullionwatch_cache_lookups_total",
				Help: "Cache lookups by result (hit/miss)",
			},
			[]string{"result"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bullionwatch_fetch_duration_seconds",
				Help:    "Upstream feed fetch latency",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
			},
			[]string{"result"},
		),
		BaselineSource: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bullionwatch_baseline_source_total",
				Help: "Baseline resolutions by source (history/estimate)",
			},
			[]string{"source"},
		),
		SchedulerFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bullionwatch_scheduler_fires_total",
				Help: "Refresh triggers by scheduling layer",
			},
			[]string{"trigger"},
		),
		SnapshotAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bullionwatch_snapshot_as_of_timestamp_seconds",
			Help: "Unix time of the most recent snapshot",
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bullionwatch_dispatch_dropped_total",
			Help: "Listener events dropped because the queue was full",
		}),
		LastRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bullionwatch_rate",
				Help: "Last observed rate per metal",
			},
			[]string{"metal"},
		),
	}
}

// RecordRefresh counts a refresh outcome (ok, partial, unavailable, cached).
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordCache counts a cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveFetch records the duration of one upstream fetch.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordBaseline counts the source used for a baseline.
func (m *Metrics) RecordBaseline(source string) {
	if m == nil {
		return
	}
	m.BaselineSource.WithLabelValues(source).Inc()
}

// RecordFire counts a scheduler trigger.
func (m *Metrics) RecordFire(trigger string) {
	if m == nil {
		return
	}
	m.SchedulerFires.WithLabelValues(trigger).Inc()
}

// RecordSnapshot updates the snapshot gauges.
func (m *Metrics) RecordSnapshot(asOf time.Time, rates map[string]float64) {
	if m == nil {
		return
	}
	m.SnapshotAge.Set(float64(asOf.Unix()))
	for metal, v := range rates {
		m.LastRate.WithLabelValues(metal).Set(v)
	}
}

// RecordDrop counts a dropped listener event.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.DispatchDropped.Inc()
}
