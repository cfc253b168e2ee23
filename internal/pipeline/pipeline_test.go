package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperjump/uttree/internal/embedding"
	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/internal/vector"
)

const dims = 32

type fixture struct {
	p        *Pipeline
	store    *storage.SQLiteStorage
	index    *vector.MemoryIndex
	concepts *keyword.BleveIndex
	linker   *fakeLinker
	registry *prometheus.Registry
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, embedder embedding.Embedder) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "uttree.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.NewMemoryIndex(dims, vector.MetricCosine)
	require.NoError(t, err)
	concepts, err := keyword.NewBleveIndex(filepath.Join(dir, "concepts.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = concepts.Close() })
	if embedder == nil {
		embedder = embedding.NewMockEmbedder(dims)
	}
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	f := &fixture{
		store:    store,
		index:    index,
		concepts: concepts,
		linker:   &fakeLinker{linked: map[string]string{}},
		registry: reg,
		logs:     logs,
	}
	f.p = New(store, embedder, index,
		WithLogger(zap.New(core)),
		WithConceptIndex(concepts),
		WithLinker(f.linker),
		WithMetrics(metrics.NewPipelineMetrics(reg)),
		WithWorkers(4))
	return f
}

type fakeLinker struct {
	mu     sync.Mutex
	linked map[string]string
}

func (l *fakeLinker) Link(_ context.Context, sum *models.AdmissionSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linked[sum.AdmissionID] = sum.RootLabel
	return nil
}

func (l *fakeLinker) Unlink(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.linked, id)
	return nil
}

func (l *fakeLinker) Close(context.Context) error { return nil }

var day0 = time.Date(2150, 3, 1, 9, 0, 0, 0, time.UTC)

func q(offset time.Duration, tt models.TemporalType, cat models.Category, v models.Value) models.Quadruple {
	return models.Quadruple{Timestamp: day0.Add(offset), TemporalType: tt, Category: cat, Value: v}
}

func diabetesInput(id string) *models.AdmissionInput {
	return &models.AdmissionInput{
		AdmissionID: id,
		PatientID:   "p-" + id,
		Events: []models.Quadruple{
			q(0, models.RealTime, models.Lab, models.Text("glucose-high")),
			q(time.Hour, models.Retrospective, models.Diagnosis, models.Text("diabetes")),
		},
	}
}

func record(t *testing.T, in *models.AdmissionInput) *models.AdmissionRecord {
	t.Helper()
	rec, err := in.Record()
	require.NoError(t, err)
	return rec
}

func TestCanonicalize(t *testing.T) {
	c, err := Canonicalize(record(t, diabetesInput("100")))
	require.NoError(t, err)
	assert.Len(t, c.Sequence, 6)
	sum := c.Summary("mock")
	assert.Equal(t, 1, sum.DayCount)
	assert.Equal(t, 2, sum.EventCount)
	assert.Equal(t, 6, sum.SequenceLength)
	assert.Equal(t, c.RootLabel().String(), sum.RootLabel)

	_, err = Canonicalize(record(t, &models.AdmissionInput{AdmissionID: "empty"}))
	var empty *models.EmptyAdmissionError
	assert.ErrorAs(t, err, &empty)
}

func TestProcessAdmission(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.p.ProcessAdmission(ctx, diabetesInput("100"))
	require.NoError(t, err)
	assert.Equal(t, metrics.StatusProcessed, res.Status)
	assert.Equal(t, 6, res.SequenceLength)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, f.index.Size())

	sum, err := f.store.GetSummary(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, res.RootLabel, sum.RootLabel)
	assert.Equal(t, "mock", sum.EmbeddingModel)
	assert.Equal(t, res.RootLabel, f.linker.linked["100"])

	hits, err := f.concepts.Search(ctx, "diabetes", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "100", hits[0].ID)

	stored, err := f.store.GetEmbedding(ctx, "100")
	require.NoError(t, err)
	indexed, ok := f.index.Get(ctx, "100")
	require.True(t, ok)
	assert.Equal(t, indexed, stored)

	again, err := f.p.ProcessAdmission(ctx, diabetesInput("100"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, f.index.Size())
	assert.Equal(t, 1, f.logs.FilterField(zap.String("admission_id", "100")).FilterMessageSnippet("already indexed").Len())

	assert.Equal(t, 2.0, admissionsCounted(t, f.registry, metrics.StatusProcessed))
}

func admissionsCounted(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "uttree_pipeline_admissions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestProcessAdmission_EmptyAndDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := &models.AdmissionInput{
		AdmissionID: "200",
		Events: []models.Quadruple{
			{TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("no timestamp")},
			q(0, 0, models.Lab, models.Text("no type")),
		},
	}
	res, err := f.p.ProcessAdmission(ctx, in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrEmptyAdmission))
	assert.Equal(t, metrics.StatusSkipped, res.Status)
	assert.Equal(t, 2, res.DroppedCount)
	assert.Equal(t, 0, f.index.Size())
	assert.Equal(t, 2, f.logs.FilterMessage("Dropped malformed event").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("Skipping admission").Len())
	assert.Equal(t, 1.0, admissionsCounted(t, f.registry, metrics.StatusSkipped))

	_, err = f.p.ProcessAdmission(ctx, &models.AdmissionInput{AdmissionID: " "})
	assert.Error(t, err)
}

func TestProcessAdmission_StructuralTwins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := diabetesInput("a")
	b := diabetesInput("b")
	// Same structure a week later, events listed in a different order.
	for i := range b.Events {
		b.Events[i].Timestamp = b.Events[i].Timestamp.Add(7 * 24 * time.Hour)
	}
	b.Events[0], b.Events[1] = b.Events[1], b.Events[0]

	ra, err := f.p.ProcessAdmission(ctx, a)
	require.NoError(t, err)
	rb, err := f.p.ProcessAdmission(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, ra.RootLabel, rb.RootLabel)

	twins, err := f.store.FindByRootLabel(ctx, ra.RootLabel)
	require.NoError(t, err)
	assert.Len(t, twins, 2)

	n, err := f.index.Query(ctx, mustGet(t, f.index, "a"), 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, n[0].Distance, 1e-6)
	assert.InDelta(t, 0, n[1].Distance, 1e-6)
}

func mustGet(t *testing.T, idx vector.SimilarityIndex, id string) []float32 {
	t.Helper()
	v, ok := idx.Get(context.Background(), id)
	require.True(t, ok)
	return v
}

// panicEmbedder panics for one sequence and fails for another.
type panicEmbedder struct {
	*embedding.MockEmbedder
	panicOn string
	failOn  string
}

func (e *panicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	switch text {
	case e.panicOn:
		panic("provider exploded")
	case e.failOn:
		return nil, errors.New("provider unavailable")
	}
	return e.MockEmbedder.Embed(ctx, text)
}

func TestProcessBatch(t *testing.T) {
	var inputs []*models.AdmissionInput
	for i, v := range []string{"glucose-high", "lactate", "troponin", "sodium-low", "potassium"} {
		inputs = append(inputs, &models.AdmissionInput{
			AdmissionID: string(rune('a' + i)),
			Events:      []models.Quadruple{q(time.Duration(i)*time.Hour, models.RealTime, models.Lab, models.Text(v))},
		})
	}
	inputs = append(inputs, &models.AdmissionInput{AdmissionID: "empty"})

	recs := make([]*models.AdmissionRecord, len(inputs))
	for i, in := range inputs {
		recs[i] = record(t, in)
	}
	seqOf := func(rec *models.AdmissionRecord) string {
		c, err := Canonicalize(rec)
		require.NoError(t, err)
		return c.Sequence.String()
	}
	emb := &panicEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims), panicOn: seqOf(recs[1]), failOn: seqOf(recs[2])}
	f := newFixture(t, emb)

	report := f.p.ProcessBatch(context.Background(), recs)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Results, 6)
	for i, res := range report.Results {
		assert.Equal(t, recs[i].ID(), res.AdmissionID, "results keep input order")
	}
	assert.Contains(t, report.Results[1].Error, "panic")
	assert.Equal(t, 3, f.index.Size())
}

func TestProcessFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.csv")

	header := "admission_id,patient_id,timestamp,temporal_type,category,value\n"
	rows := "1,p1,2150-03-01 09:00:00,RealTime,Lab,glucose-high\n" +
		"1,p1,2150-03-01 10:00:00,Retro,Diagnosis,diabetes\n" +
		"2,p2,2150-04-01 09:00:00,RealTime,Drug,heparin\n" +
		"2,p2,2150-04-01 09:00:00,Sometimes,Drug,heparin\n"
	require.NoError(t, os.WriteFile(path, []byte(header+rows), 0644))

	report, err := f.p.ProcessFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Rejected)

	again, err := f.p.ProcessFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total(), "unchanged file is skipped")

	forced, err := f.p.ProcessFile(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Processed)

	// Admission 2 disappears from the file.
	require.NoError(t, os.WriteFile(path, []byte(header+strings.SplitAfter(rows, "\n")[0]), 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = f.p.ProcessFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.index.Size())
	_, err = f.store.GetSummary(ctx, "2")
	assert.ErrorIs(t, err, models.ErrAdmissionNotFound)

	n, err := f.p.DeleteSource(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.index.Size())

	_, err = f.p.ProcessFile(ctx, filepath.Join(dir, "notes.txt"), false)
	assert.Error(t, err)
}

func TestProcessDirectory(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`{"admission_id":"j1","events":[{"timestamp":"2150-01-01T00:00:00Z","temporal_type":"RealTime","category":"Lab","value":"lactate"}]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.csv"),
		[]byte("admission_id,timestamp,temporal_type,category,value\nc1,2150-01-01 00:00:00,RealTime,Drug,heparin\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0644))

	report, err := f.p.ProcessDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)

	_, err = f.p.ProcessDirectory(context.Background(), filepath.Join(dir, "a.json"), false)
	assert.Error(t, err)
}

func TestDeleteAdmission(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.p.ProcessAdmission(ctx, diabetesInput("100"))
	require.NoError(t, err)

	require.NoError(t, f.p.DeleteAdmission(ctx, "100"))
	assert.Equal(t, 0, f.index.Size())
	assert.NotContains(t, f.linker.linked, "100")
	n, err := f.concepts.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	err = f.p.DeleteAdmission(ctx, "100")
	assert.ErrorIs(t, err, models.ErrAdmissionNotFound)
}

func TestRebuildIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_, err := f.p.ProcessAdmission(ctx, diabetesInput(id))
		require.NoError(t, err)
	}

	fresh, err := vector.NewMemoryIndex(dims, vector.MetricCosine)
	require.NoError(t, err)
	p := New(f.store, embedding.NewMockEmbedder(dims), fresh)
	n, err := p.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, fresh.Size())

	narrow, err := vector.NewMemoryIndex(dims/2, vector.MetricCosine)
	require.NoError(t, err)
	n, err = New(f.store, embedding.NewMockEmbedder(dims/2), narrow).RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "embeddings of another dimension are skipped")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.p.ProcessAdmission(ctx, diabetesInput("100"))
	require.NoError(t, err)

	st, err := f.p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Admissions)
	assert.Equal(t, int64(2), st.Quadruples)
	assert.Equal(t, 1, st.IndexSize)
	assert.Equal(t, "memory", st.IndexType)
	assert.Equal(t, "cosine", st.Metric)
	assert.Equal(t, dims, st.Dimensions)
	assert.Equal(t, "mock", st.EmbeddingModel)
	assert.Equal(t, uint64(1), st.ConceptDocs)
	assert.Equal(t, 4, st.Workers)
}

// failingStore fails SaveAdmission once failSave is set.
type failingStore struct {
	storage.Storage
	mu       sync.Mutex
	failSave bool
}

func (s *failingStore) SaveAdmission(ctx context.Context, sum *models.AdmissionSummary, events []models.Quadruple, vec []float32) error {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Storage.SaveAdmission(ctx, sum, events, vec)
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = v
}

func TestProcessRecord_PersistFailureRestoresIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	store := &failingStore{Storage: f.store}
	p := New(store, embedding.NewMockEmbedder(dims), f.index)

	_, err := p.ProcessRecord(ctx, record(t, diabetesInput("100")))
	require.NoError(t, err)
	before, ok := f.index.Get(ctx, "100")
	require.True(t, ok)

	changed := diabetesInput("100")
	changed.Events = append(changed.Events, q(2*time.Hour, models.RealTime, models.Drug, models.Text("insulin")))
	store.setFail(true)
	res, err := p.ProcessRecord(ctx, record(t, changed))
	require.Error(t, err)
	assert.Equal(t, metrics.StatusFailed, res.Status)

	after, ok := f.index.Get(ctx, "100")
	require.True(t, ok)
	assert.Equal(t, before, after, "index keeps the vector that storage still holds")
	sum, err := f.store.GetSummary(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.EventCount)

	// A new admission that fails to persist never reaches the index.
	_, err = p.ProcessRecord(ctx, record(t, diabetesInput("200")))
	require.Error(t, err)
	_, ok = f.index.Get(ctx, "200")
	assert.False(t, ok)
	assert.Equal(t, 1, f.index.Size())
}

func TestProcessFile_AdmissionWithOnlyRejectedRowsIsRemoved(t *testing.T) {
	ctx := context.Background()
	touch := func(t *testing.T, path string) {
		later := time.Now().Add(time.Minute)
		require.NoError(t, os.Chtimes(path, later, later))
	}

	t.Run("csv", func(t *testing.T) {
		f := newFixture(t, nil)
		path := filepath.Join(t.TempDir(), "batch.csv")
		header := "admission_id,timestamp,temporal_type,category,value\n"
		first := "1,2150-03-01 09:00:00,RealTime,Lab,glucose-high\n"
		require.NoError(t, os.WriteFile(path, []byte(header+first+"2,2150-04-01 09:00:00,RealTime,Drug,heparin\n"), 0644))
		_, err := f.p.ProcessFile(ctx, path, false)
		require.NoError(t, err)
		require.Equal(t, 2, f.index.Size())

		require.NoError(t, os.WriteFile(path, []byte(header+first+"2,2150-04-01 09:00:00,Bogus,Drug,heparin\n"), 0644))
		touch(t, path)
		report, err := f.p.ProcessFile(ctx, path, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, 1, report.Rejected)
		assert.Equal(t, 1, f.index.Size())
		_, ok := f.index.Get(ctx, "2")
		assert.False(t, ok)
		_, err = f.store.GetSummary(ctx, "2")
		assert.ErrorIs(t, err, models.ErrAdmissionNotFound)
	})

	t.Run("json", func(t *testing.T) {
		f := newFixture(t, nil)
		path := filepath.Join(t.TempDir(), "batch.json")
		good := `{"admission_id":"1","events":[{"timestamp":"2150-03-01T09:00:00Z","temporal_type":"RealTime","category":"Lab","value":"glucose-high"}]}`
		second := `{"admission_id":"2","events":[{"timestamp":"2150-04-01T09:00:00Z","temporal_type":"%s","category":"Drug","value":"heparin"}]}`
		require.NoError(t, os.WriteFile(path, []byte("["+good+","+strings.Replace(second, "%s", "RealTime", 1)+"]"), 0644))
		_, err := f.p.ProcessFile(ctx, path, false)
		require.NoError(t, err)
		require.Equal(t, 2, f.index.Size())

		require.NoError(t, os.WriteFile(path, []byte("["+good+","+strings.Replace(second, "%s", "Bogus", 1)+"]"), 0644))
		touch(t, path)
		report, err := f.p.ProcessFile(ctx, path, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 1, f.index.Size())
		_, ok := f.index.Get(ctx, "2")
		assert.False(t, ok)
		_, err = f.store.GetSummary(ctx, "2")
		assert.ErrorIs(t, err, models.ErrAdmissionNotFound)
	})
}
