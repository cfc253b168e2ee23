package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/uttree/internal/models"
)

type recordedQuery struct {
	query  string
	params map[string]any
}

func TestNeo4jLinker_LinkUnlink(t *testing.T) {
	var got []recordedQuery
	closed := false
	l := newNeo4jLinker(func(_ context.Context, q string, p map[string]any) error {
		got = append(got, recordedQuery{q, p})
		return nil
	}, func(context.Context) error { closed = true; return nil }, nil)
	ctx := context.Background()

	err := l.Link(ctx, &models.AdmissionSummary{
		AdmissionID:    "100",
		PatientID:      "p1",
		RootLabel:      "ab12",
		SequenceLength: 6,
		EmbeddingModel: "mxbai-embed-large",
	})
	require.NoError(t, err)
	require.NoError(t, l.Unlink(ctx, "100"))
	require.NoError(t, l.Close(ctx))

	require.Len(t, got, 2)
	assert.Contains(t, got[0].query, "MERGE (a:Admission {hadm_id: $hadm_id})")
	assert.Equal(t, "ab12", got[0].params["root_label"])
	assert.Equal(t, int64(6), got[0].params["sequence_length"])
	assert.Contains(t, got[1].query, "REMOVE a.uttree_root_label")
	assert.Equal(t, "100", got[1].params["hadm_id"])
	assert.True(t, closed)
}

func TestNeo4jLinker_Errors(t *testing.T) {
	boom := errors.New("connection lost")
	l := newNeo4jLinker(func(context.Context, string, map[string]any) error { return boom }, nil, nil)
	err := l.Link(context.Background(), &models.AdmissionSummary{AdmissionID: "7"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "admission 7")
	assert.ErrorIs(t, l.Unlink(context.Background(), "7"), boom)
	assert.NoError(t, l.Close(context.Background()))
}

func TestNopLinker(t *testing.T) {
	var l Linker = NopLinker{}
	assert.NoError(t, l.Link(context.Background(), &models.AdmissionSummary{}))
	assert.NoError(t, l.Unlink(context.Background(), "x"))
	assert.NoError(t, l.Close(context.Background()))
}
