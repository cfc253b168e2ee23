package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveAdmission(StatusProcessed)
	m.ObserveAdmission(StatusProcessed)
	m.ObserveAdmission(StatusSkipped)
	m.ObserveDropped(3)
	m.ObserveDropped(0)
	m.ObserveStage(StageEmbed, time.Now())
	m.SetIndexSize(42)
	m.ObserveQuery(time.Now())

	if got := testutil.ToFloat64(m.admissionsTotal.WithLabelValues(StatusProcessed)); got != 2 {
		t.Errorf("processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.eventsDropped); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.indexSize); got != 42 {
		t.Errorf("index size = %v, want 42", got)
	}
	if n := testutil.CollectAndCount(m.stageSeconds); n != 1 {
		t.Errorf("stage series = %d, want 1", n)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"uttree_pipeline_admissions_total",
		"uttree_pipeline_events_dropped_total",
		"uttree_pipeline_stage_seconds",
		"uttree_index_size",
		"uttree_index_query_seconds",
	} {
		if !names[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveAdmission(StatusFailed)
	m.ObserveDropped(1)
	m.ObserveStage(StageBuild, time.Now())
	m.SetIndexSize(1)
	m.ObserveQuery(time.Now())
}
