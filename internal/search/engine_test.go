package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/uttree/internal/embedding"
	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/pipeline"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/internal/vector"
)

const dims = 16

type env struct {
	engine   *Engine
	pipeline *pipeline.Pipeline
	store    *storage.SQLiteStorage
	index    *vector.MemoryIndex
}

func newEnv(t *testing.T) *env {
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
	return &env{
		engine:   NewEngine(store, index, concepts),
		pipeline: pipeline.New(store, embedding.NewMockEmbedder(dims), index, pipeline.WithConceptIndex(concepts)),
		store:    store,
		index:    index,
	}
}

var day0 = time.Date(2150, 3, 1, 9, 0, 0, 0, time.UTC)

func admission(id string, shift time.Duration, values ...string) *models.AdmissionInput {
	in := &models.AdmissionInput{AdmissionID: id, PatientID: "p-" + id}
	for i, v := range values {
		in.Events = append(in.Events, models.Quadruple{
			Timestamp:    day0.Add(shift + time.Duration(i)*time.Hour),
			TemporalType: models.RealTime,
			Category:     models.Drug,
			Value:        models.Text(v),
		})
	}
	return in
}

func (e *env) load(t *testing.T, inputs ...*models.AdmissionInput) {
	t.Helper()
	for _, in := range inputs {
		_, err := e.pipeline.ProcessAdmission(context.Background(), in)
		require.NoError(t, err)
	}
}

func TestEngine_SimilarTo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.load(t,
		admission("a", 0, "heparin", "warfarin"),
		admission("b", 48*time.Hour, "heparin", "warfarin"),
		admission("c", 0, "insulin"),
	)

	resp, err := e.engine.SimilarTo(ctx, "a", 5)
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Query)
	assert.Equal(t, "cosine", resp.Metric)
	require.Len(t, resp.Results, 2, "query admission is excluded")
	assert.Equal(t, "b", resp.Results[0].AdmissionID)
	assert.InDelta(t, 0, resp.Results[0].Distance, 1e-6)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, "p-b", resp.Results[0].PatientID)
	assert.NotEmpty(t, resp.Results[0].RootLabel)
	assert.Equal(t, "c", resp.Results[1].AdmissionID)

	resp, err = e.engine.SimilarTo(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].AdmissionID)

	_, err = e.engine.SimilarTo(ctx, "missing", 5)
	assert.ErrorIs(t, err, models.ErrAdmissionNotFound)
}

func TestEngine_SimilarTo_FallsBackToStoredEmbedding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.load(t, admission("a", 0, "heparin"), admission("b", 0, "insulin"))
	require.NoError(t, e.index.Delete(ctx, "a"))

	resp, err := e.engine.SimilarTo(ctx, "a", 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].AdmissionID)
}

func TestEngine_SimilarToVector(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.SimilarToVector(ctx, &models.SimilarityQuery{Vector: make([]float32, dims)})
	assert.ErrorIs(t, err, models.ErrEmptyIndex)

	e.load(t, admission("a", 0, "heparin"), admission("b", 0, "insulin"))
	vec, ok := e.index.Get(ctx, "b")
	require.True(t, ok)

	resp, err := e.engine.SimilarToVector(ctx, &models.SimilarityQuery{Vector: vec, K: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].AdmissionID)
	assert.Empty(t, resp.Query)

	_, err = e.engine.SimilarToVector(ctx, &models.SimilarityQuery{Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	_, err = e.engine.SimilarToVector(ctx, &models.SimilarityQuery{})
	assert.ErrorIs(t, err, models.ErrInvalidQuery)
}

func TestEngine_FindByConcept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.load(t,
		admission("a", 0, "heparin", "warfarin"),
		admission("b", 0, "heparin"),
		admission("c", 0, "insulin"),
	)

	resp, err := e.engine.FindByConcept(ctx, &models.ConceptQuery{Query: "heparin warfarin"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "a", resp.Results[0].AdmissionID)
	assert.Equal(t, "p-a", resp.Results[0].PatientID)
	assert.NotEmpty(t, resp.Results[0].RootLabel)
	assert.Empty(t, resp.SuggestedQuery)

	resp, err = e.engine.FindByConcept(ctx, &models.ConceptQuery{Query: "hepatin"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "heparin", resp.SuggestedQuery)

	resp, err = e.engine.FindByConcept(ctx, &models.ConceptQuery{Query: "heparin", Category: "Lab"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = e.engine.FindByConcept(ctx, &models.ConceptQuery{Query: " "})
	assert.ErrorIs(t, err, models.ErrInvalidQuery)

	noConcepts := NewEngine(e.store, e.index, nil)
	_, err = noConcepts.FindByConcept(ctx, &models.ConceptQuery{Query: "heparin"})
	assert.ErrorIs(t, err, ErrConceptsDisabled)
}

func TestEngine_StructuralTwins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.load(t,
		admission("a", 0, "heparin", "warfarin"),
		admission("b", 72*time.Hour, "heparin", "warfarin"),
		admission("c", 0, "heparin"),
	)

	twins, err := e.engine.StructuralTwins(ctx, "a")
	require.NoError(t, err)
	require.Len(t, twins, 1)
	assert.Equal(t, "b", twins[0].AdmissionID)

	twins, err = e.engine.StructuralTwins(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, twins)

	_, err = e.engine.StructuralTwins(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrAdmissionNotFound)
}
