package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert pipeline.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec // labels: result={success,error}
	RunInProgress prometheus.Gauge
	RunDuration   prometheus.Histogram
	ParseDuration prometheus.Histogram

	StationsParsed  prometheus.Counter
	StationsSkipped prometheus.Counter
	SamplesSkipped  prometheus.Counter

	LocationsMatched   prometheus.Counter
	LocationsUnmatched prometheus.Counter
	LocationsDeferred  prometheus.Counter

	EventsEmitted    prometheus.Counter
	EventsAdmitted   prometheus.Counter
	EventsSuppressed prometheus.Counter

	Outcomes      *prometheus.CounterVec // labels: status
	CacheDegraded prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunInProgress,
		m.RunDuration,
		m.ParseDuration,
		m.StationsParsed,
		m.StationsSkipped,
		m.SamplesSkipped,
		m.LocationsMatched,
		m.LocationsUnmatched,
		m.LocationsDeferred,
		m.EventsEmitted,
		m.EventsAdmitted,
		m.EventsSuppressed,
		m.Outcomes,
		m.CacheDegraded,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	const ns = "forecast_alerts"
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Completed pipeline runs by result.",
		}, []string{"result"}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_in_progress",
			Help:      "1 while a pipeline run is executing.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-parse-match-evaluate-dispatch run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "parse_duration_seconds",
			Help:      "Duration of bulletin parsing.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StationsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stations_parsed_total",
			Help:      "Stations successfully parsed from bulletins.",
		}),
		StationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stations_skipped_total",
			Help:      "Stations excluded from bulletins (missing coordinates, bad data).",
		}),
		SamplesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "samples_skipped_total",
			Help:      "Individual forecast values recorded as missing due to parse failures.",
		}),
		LocationsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "locations_matched_total",
			Help:      "Monitored locations resolved to a station within the radius.",
		}),
		LocationsUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "locations_unmatched_total",
			Help:      "Monitored locations with no station within the radius.",
		}),
		LocationsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "locations_deferred_total",
			Help:      "Monitored locations not evaluated because the run deadline passed.",
		}),
		EventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_emitted_total",
			Help:      "Alert events produced by condition evaluation.",
		}),
		EventsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_admitted_total",
			Help:      "Alert events admitted by the dedup gate.",
		}),
		EventsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_suppressed_total",
			Help:      "Alert events suppressed as duplicates.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dispatch_outcomes_total",
			Help:      "Dispatch outcomes by status.",
		}, []string{"status"}),
		CacheDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_degraded_total",
			Help:      "Dedup cache operations that failed and fell back to policy.",
		}),
	}
}
