package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/uttree/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEvents() []models.Quadruple {
	ts := time.Date(2150, 3, 1, 8, 30, 0, 0, time.FixedZone("EST", -5*3600))
	return []models.Quadruple{
		{Timestamp: ts, TemporalType: models.Retrospective, Category: models.Diagnosis, Value: models.Coded("ICD9", "250.00")},
		{Timestamp: ts.Add(time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Numeric(212, "mg/dL")},
		{Timestamp: ts.Add(2 * time.Hour), TemporalType: models.RealTime, Category: models.Drug, Value: models.Text("insulin")},
	}
}

func testSummary(id, root string) *models.AdmissionSummary {
	return &models.AdmissionSummary{
		AdmissionID:    id,
		PatientID:      "p-" + id,
		AdmitTime:      time.Date(2150, 3, 1, 8, 0, 0, 0, time.UTC),
		Source:         "/inbox/batch.csv",
		RootLabel:      root,
		Sequence:       root + " aa bb",
		SequenceLength: 3,
		EventCount:     3,
		DayCount:       1,
		EmbeddingModel: "mock",
	}
}

func TestSQLiteStorage_SaveAndGet(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	sum := testSummary("100", "r1")
	require.NoError(t, store.SaveAdmission(ctx, sum, testEvents(), []float32{0.5, -1, 2}))
	assert.False(t, sum.CreatedAt.IsZero())

	got, err := store.GetSummary(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "p-100", got.PatientID)
	assert.Equal(t, "r1", got.RootLabel)
	assert.Equal(t, 3, got.SequenceLength)
	assert.True(t, got.AdmitTime.Equal(sum.AdmitTime))
	assert.True(t, got.DischargeTime.IsZero(), "open stay stays open")

	detail, err := store.GetAdmission(ctx, "100")
	require.NoError(t, err)
	require.Len(t, detail.Events, 3)
	want := testEvents()
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(detail.Events[i].Timestamp))
		assert.Equal(t, want[i].Category, detail.Events[i].Category)
		assert.Equal(t, want[i].TemporalType, detail.Events[i].TemporalType)
		assert.Equal(t, 0, want[i].Value.Compare(detail.Events[i].Value))
	}
	_, offset := detail.Events[0].Timestamp.Zone()
	assert.Equal(t, -5*3600, offset, "event offsets are preserved")

	vec, err := store.GetEmbedding(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, vec)
}

func TestSQLiteStorage_Resave(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first := testSummary("100", "r1")
	require.NoError(t, store.SaveAdmission(ctx, first, testEvents(), []float32{1}))
	created := first.CreatedAt

	second := testSummary("100", "r2")
	require.NoError(t, store.SaveAdmission(ctx, second, testEvents()[:1], []float32{2}))
	assert.True(t, second.CreatedAt.Equal(created))

	n, err := store.CountAdmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	q, err := store.CountQuadruples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q)

	got, err := store.GetSummary(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.RootLabel)
}

func TestSQLiteStorage_Lookups(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAdmission(ctx, testSummary("a", "same"), testEvents(), []float32{1, 0}))
	require.NoError(t, store.SaveAdmission(ctx, testSummary("b", "same"), testEvents(), []float32{0, 1}))
	other := testSummary("c", "other")
	other.Source = "/inbox/other.json"
	require.NoError(t, store.SaveAdmission(ctx, other, testEvents(), nil))

	twins, err := store.FindByRootLabel(ctx, "same")
	require.NoError(t, err)
	require.Len(t, twins, 2)
	assert.Equal(t, "a", twins[0].AdmissionID)
	assert.Equal(t, "b", twins[1].AdmissionID)

	ids, err := store.IDsBySource(ctx, "/inbox/batch.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	sums, err := store.GetSummaries(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	assert.Len(t, sums, 2)
	assert.Contains(t, sums, "c")

	var seen []string
	err = store.ForEachEmbedding(ctx, func(id string, vec []float32) error {
		seen = append(seen, id)
		assert.Len(t, vec, 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen, "admissions without embeddings are skipped")

	list, err := store.ListAdmissions(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = store.GetEmbedding(ctx, "c")
	assert.Error(t, err)
}

func TestSQLiteStorage_Delete(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAdmission(ctx, testSummary("100", "r1"), testEvents(), []float32{1}))
	require.NoError(t, store.DeleteAdmission(ctx, "100"))
	require.NoError(t, store.DeleteAdmission(ctx, "100"))

	_, err := store.GetSummary(ctx, "100")
	assert.True(t, errors.Is(err, models.ErrAdmissionNotFound))
	_, err = store.GetAdmission(ctx, "100")
	assert.True(t, errors.Is(err, models.ErrAdmissionNotFound))
	q, err := store.CountQuadruples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q)
}

func TestSQLiteStorage_Sources(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	got, err := store.GetSource(ctx, "file:abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	src := &models.SourceFile{Key: "file:abc", Path: "/inbox/a.csv", ModTime: 1700000000123456789, Size: 42, Admissions: 3}
	require.NoError(t, store.SaveSource(ctx, src))
	got, err = store.GetSource(ctx, "file:abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1700000000123456789), got.ModTime)
	assert.Equal(t, 3, got.Admissions)

	require.NoError(t, store.DeleteSource(ctx, "file:abc"))
	got, err = store.GetSource(ctx, "file:abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}
