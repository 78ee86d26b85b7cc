// Package metrics exports merge counters in the Prometheus text format.
//
// cfgset runs as a batch job, so nothing is scraped. Counters are registered
// on a caller-supplied registry and written once per run with
// WriteTextfile, for node_exporter's textfile collector to pick up.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

const namespace = "cfgset"

// Recorder holds the merge metrics registered on one registry.
type Recorder struct {
	runs        *prometheus.CounterVec
	routines    *prometheus.CounterVec
	edges       *prometheus.CounterVec
	fallThrough prometheus.Counter
	lowered     prometheus.Counter
	graphSize   *prometheus.GaugeVec
	duration    prometheus.Histogram
}

// New registers the merge metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_runs_total",
			Help:      "Merges attempted, by mode and result.",
		}, []string{"mode", "result"}),
		routines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_routines_total",
			Help:      "Routines folded into the dataset, by outcome.",
		}, []string{"outcome"}),
		edges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_edges_total",
			Help:      "Edges replayed into the dataset, by outcome.",
		}, []string{"outcome"}),
		fallThrough: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_fall_through_patched_total",
			Help:      "Branch targets reconciled by the fall-through heuristic.",
		}),
		lowered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_lowering_events_total",
			Help:      "Edge levels lowered by live traces.",
		}),
		graphSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_size",
			Help:      "Size of the last merged dataset, by part.",
		}, []string{"part"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Wall time of the merge step.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// ObserveMerge records a successful merge.
func (r *Recorder) ObserveMerge(mode merge.Mode, res *merge.Result, elapsed time.Duration) {
	r.runs.WithLabelValues(string(mode), "ok").Inc()
	r.duration.Observe(elapsed.Seconds())

	s := res.Stats
	r.routines.WithLabelValues("static_added").Add(float64(s.StaticAdded))
	r.routines.WithLabelValues("static_merged").Add(float64(s.StaticMerged))
	r.routines.WithLabelValues("dynamic_matched").Add(float64(s.DynamicMatched))
	r.routines.WithLabelValues("dynamic_appended").Add(float64(s.DynamicAppended))

	r.edges.WithLabelValues(cfg.NewEdge.String()).Add(float64(s.EdgesNew))
	r.edges.WithLabelValues(cfg.LoweredUserLevel.String()).Add(float64(s.EdgesLowered))
	r.edges.WithLabelValues(cfg.Ignored.String()).Add(float64(s.EdgesIgnored))
	r.edges.WithLabelValues("dropped").Add(float64(s.EdgesDropped))

	r.fallThrough.Add(float64(s.FallThroughPatched))
	r.lowered.Add(float64(len(res.Lowered)))

	r.graphSize.WithLabelValues("static").Set(float64(res.Graph.StaticCount()))
	r.graphSize.WithLabelValues("dynamic").Set(float64(res.Graph.DynamicCount()))
	r.graphSize.WithLabelValues("edges").Set(float64(res.Graph.Edges.Len()))
}

// ObserveFailure records a merge aborted by err, labelled with its error
// kind when it has one.
func (r *Recorder) ObserveFailure(mode merge.Mode, err error) {
	result := "error"
	if kind := cfg.KindOf(err); kind != "" {
		result = string(kind)
	}
	r.runs.WithLabelValues(string(mode), result).Inc()
}

// WriteTextfile gathers g and writes it atomically to path.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
