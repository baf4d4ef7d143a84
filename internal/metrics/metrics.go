// Package metrics exposes Prometheus instrumentation for the learning engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the engine.
// Each Registry owns its prometheus.Registry so tests can create many.
type Registry struct {
	registry *prometheus.Registry

	// Recorder
	ActionsRecorded  *prometheus.CounterVec
	OutcomesResolved *prometheus.CounterVec

	// Matcher
	Matches       *prometheus.CounterVec
	MatchDuration prometheus.Histogram

	// Miner
	MinerRuns        *prometheus.CounterVec
	MinerDuration    prometheus.Histogram
	SubsetsEvaluated prometheus.Counter

	// Override store
	OverridesActive prometheus.Gauge
	SnapshotVersion prometheus.Gauge
}

// NewRegistry creates a registry with all engine metrics plus Go runtime collectors
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ActionsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_actions_recorded_total",
				Help: "Action events recorded, by category and result",
			},
			[]string{"category", "result"},
		),

		OutcomesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_outcomes_resolved_total",
				Help: "Outcome resolutions, by result",
			},
			[]string{"result"},
		),

		Matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_matches_total",
				Help: "Runtime matcher lookups, by result (hit, miss)",
			},
			[]string{"result"},
		),

		MatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lessons_match_duration_seconds",
				Help:    "Runtime matcher lookup latency",
				Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
			},
		),

		MinerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lessons_miner_runs_total",
				Help: "Miner runs, by terminal status",
			},
			[]string{"status"},
		),

		MinerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lessons_miner_duration_seconds",
				Help:    "Miner run wall-clock duration",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		SubsetsEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lessons_subsets_evaluated_total",
				Help: "Scope subsets evaluated by the aggregator",
			},
		),

		OverridesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lessons_overrides_in_snapshot",
				Help: "Overrides in the current snapshot",
			},
		),

		SnapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lessons_snapshot_version",
				Help: "Version of the current override snapshot",
			},
		),
	}

	r.registry.MustRegister(
		r.ActionsRecorded,
		r.OutcomesResolved,
		r.Matches,
		r.MatchDuration,
		r.MinerRuns,
		r.MinerDuration,
		r.SubsetsEvaluated,
		r.OverridesActive,
		r.SnapshotVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRecord counts a Record call
func (r *Registry) ObserveRecord(category string, err error) {
	r.ActionsRecorded.WithLabelValues(category, result(err)).Inc()
}

// ObserveResolve counts a ResolveOutcome call
func (r *Registry) ObserveResolve(err error) {
	r.OutcomesResolved.WithLabelValues(result(err)).Inc()
}

// ObserveMatch records one matcher lookup
func (r *Registry) ObserveMatch(hit bool, d time.Duration) {
	label := "miss"
	if hit {
		label = "hit"
	}
	r.Matches.WithLabelValues(label).Inc()
	r.MatchDuration.Observe(d.Seconds())
}

// ObserveMinerRun records a finished miner run
func (r *Registry) ObserveMinerRun(status string, d time.Duration, subsets int) {
	r.MinerRuns.WithLabelValues(status).Inc()
	r.MinerDuration.Observe(d.Seconds())
	r.SubsetsEvaluated.Add(float64(subsets))
}

// ObserveSnapshot records the published snapshot
func (r *Registry) ObserveSnapshot(version int64, overrides int) {
	r.SnapshotVersion.Set(float64(version))
	r.OverridesActive.Set(float64(overrides))
}
