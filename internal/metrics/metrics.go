// Package metrics exposes Prometheus collectors for the canonicalization pipeline and similarity index.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Admission outcomes recorded by ObserveAdmission.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Pipeline stages recorded by ObserveStage.
const (
	StageBuild    = "build"
	StageRelabel  = "relabel"
	StageSequence = "sequence"
	StageEmbed    = "embed"
	StageUpsert   = "upsert"
	StagePersist  = "persist"
)

// PipelineMetrics exposes counters/histograms for admission processing and index queries.
type PipelineMetrics struct {
	admissionsTotal *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	stageSeconds    *prometheus.HistogramVec
	indexSize       prometheus.Gauge
	querySeconds    prometheus.Histogram
}

// NewPipelineMetrics registers the collectors with reg (the default registerer when nil).
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		admissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uttree",
			Subsystem: "pipeline",
			Name:      "admissions_total",
			Help:      "Admissions handled by the pipeline, by outcome",
		}, []string{"status"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uttree",
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Quadruples rejected as malformed or outside the admission window",
		}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uttree",
			Subsystem: "pipeline",
			Name:      "stage_seconds",
			Help:      "Latency of each pipeline stage per admission",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uttree",
			Subsystem: "index",
			Name:      "size",
			Help:      "Number of admissions in the similarity index",
		}),
		querySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uttree",
			Subsystem: "index",
			Name:      "query_seconds",
			Help:      "Latency of similarity index queries",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.admissionsTotal, m.eventsDropped, m.stageSeconds, m.indexSize, m.querySeconds)
	return m
}

func (m *PipelineMetrics) ObserveAdmission(status string) {
	if m == nil {
		return
	}
	m.admissionsTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDropped.Add(float64(n))
}

// ObserveStage records the time elapsed since start for stage.
func (m *PipelineMetrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *PipelineMetrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}

func (m *PipelineMetrics) ObserveQuery(start time.Time) {
	if m == nil {
		return
	}
	m.querySeconds.Observe(time.Since(start).Seconds())
}
