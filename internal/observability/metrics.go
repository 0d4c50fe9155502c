package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "glacierunc"

// Metrics holds the Prometheus collectors for a pipeline run.
type Metrics struct {
	// labels: dataset
	UnitsNormalized *prometheus.CounterVec
	UnitsSimulated  *prometheus.CounterVec
	// labels: dataset, kind
	UnitsExcluded *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec

	SimulationDuration prometheus.Histogram
	ActiveWorkers      prometheus.Gauge
}

func newCollectors(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		UnitsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_normalized_total",
			Help:      help("Glacier climate records normalized, by dataset."),
		}, []string{"dataset"}),
		UnitsSimulated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_simulated_total",
			Help:      help("Mass-balance simulations completed, by dataset."),
		}, []string{"dataset"}),
		UnitsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_excluded_total",
			Help:      help("Units excluded from a run, by dataset and error kind."),
		}, []string{"dataset", "kind"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      help("Units served from the result cache, by dataset."),
		}, []string{"dataset"}),
		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      help("Duration of one glacier mass-balance simulation."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      help("Workers currently processing a unit."),
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newCollectors(true)
	prometheus.MustRegister(
		m.UnitsNormalized,
		m.UnitsSimulated,
		m.UnitsExcluded,
		m.CacheHits,
		m.SimulationDuration,
		m.ActiveWorkers,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newCollectors(false)
}
