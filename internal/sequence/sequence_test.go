package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/relabel"
	"github.com/hyperjump/uttree/internal/tree"
)

var admit = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func buildTree(t *testing.T, events ...models.Quadruple) *tree.Tree {
	t.Helper()
	rec, err := models.NewAdmissionRecord("100", "7", admit, time.Time{}, events)
	require.NoError(t, err)
	tr, err := tree.Build(rec)
	require.NoError(t, err)
	return tr
}

func TestGenerate_EndToEnd(t *testing.T) {
	tr := buildTree(t,
		models.Quadruple{Timestamp: admit.Add(3 * time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("glucose-high")},
		models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.Retrospective, Category: models.Diagnosis, Value: models.Text("diabetes")},
	)
	a := relabel.Relabel(tr)
	seq, err := Generate(tr, a)
	require.NoError(t, err)

	assert.Equal(t, 1, tr.CountLevel(tree.LevelDay))
	assert.Equal(t, 2, tr.CountLevel(tree.LevelType))
	require.Len(t, seq, 6)

	// BFS structural order: root, day, Retrospective, RealTime, diabetes, glucose-high.
	day := tr.Days()[0]
	types := tr.Children(day)
	want := Sequence{
		a.Label(tree.Root),
		a.Label(day),
		a.Label(types[0]),
		a.Label(types[1]),
		a.Label(tr.Children(types[0])[0]),
		a.Label(tr.Children(types[1])[0]),
	}
	assert.True(t, want.Equal(seq))
	assert.Equal(t, a.Root(), seq[0])
}

func TestGenerate_Deterministic(t *testing.T) {
	events := []models.Quadruple{
		{Timestamp: admit.Add(time.Hour), TemporalType: models.RealTime, Category: models.Drug, Value: models.Text("insulin")},
		{Timestamp: admit.Add(25 * time.Hour), TemporalType: models.NewFinding, Category: models.Diagnosis, Value: models.Coded("ICD10", "N17")},
		{Timestamp: admit.Add(26 * time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Numeric(2.1, "mg/dL")},
	}
	first, err := Generate(buildTree(t, events...), relabel.Relabel(buildTree(t, events...)))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		tr := buildTree(t, events...)
		got, err := Generate(tr, relabel.Relabel(tr))
		require.NoError(t, err)
		assert.Equal(t, first.Bytes(), got.Bytes())
		assert.Equal(t, first.String(), got.String())
	}
	assert.Len(t, first, buildTree(t, events...).Len())
}

func TestGenerate_NotLabelSorted(t *testing.T) {
	tr := buildTree(t,
		models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.Retrospective, Category: models.Diagnosis, Value: models.Text("a")},
		models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.NewFinding, Category: models.Diagnosis, Value: models.Text("b")},
		models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("c")},
	)
	a := relabel.Relabel(tr)
	seq, err := Generate(tr, a)
	require.NoError(t, err)
	types := tr.Children(tr.Days()[0])
	require.Len(t, types, 3)
	assert.Equal(t, a.Label(types[0]), seq[2])
	assert.Equal(t, a.Label(types[1]), seq[3])
	assert.Equal(t, a.Label(types[2]), seq[4])
}

func TestGenerate_AssignmentMismatch(t *testing.T) {
	small := buildTree(t, models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("a")})
	big := buildTree(t,
		models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("a")},
		models.Quadruple{Timestamp: admit.Add(30 * time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("b")},
	)
	_, err := Generate(big, relabel.Relabel(small))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	tr := buildTree(t, models.Quadruple{Timestamp: admit.Add(time.Hour), TemporalType: models.RealTime, Category: models.Lab, Value: models.Text("a")})
	seq, err := Generate(tr, relabel.Relabel(tr))
	require.NoError(t, err)

	got, err := Parse(seq.String())
	require.NoError(t, err)
	assert.True(t, seq.Equal(got))
	assert.Equal(t, seq.Key(), got.Key())

	_, err = Parse("not-a-label")
	assert.Error(t, err)
}
