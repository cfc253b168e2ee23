package pipeline

import (
	"fmt"
	"time"

	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/relabel"
	"github.com/hyperjump/uttree/internal/sequence"
	"github.com/hyperjump/uttree/internal/tree"
)

// Canonical is the embedding-independent form of an admission.
type Canonical struct {
	Record   *models.AdmissionRecord
	Tree     *tree.Tree
	Labels   relabel.Assignment
	Sequence sequence.Sequence
}

// RootLabel returns the canonical label of the whole tree.
func (c *Canonical) RootLabel() relabel.Label { return c.Labels.Root() }

// Canonicalize builds the temporal tree of rec, relabels it, and serializes
// it. It is pure and safe to call concurrently.
func Canonicalize(rec *models.AdmissionRecord) (*Canonical, error) {
	return canonicalize(rec, func(string, time.Time) {})
}

// canonicalize is Canonicalize with a per-stage timing hook.
func canonicalize(rec *models.AdmissionRecord, observe func(stage string, start time.Time)) (*Canonical, error) {
	start := time.Now()
	t, err := tree.Build(rec)
	observe(metrics.StageBuild, start)
	if err != nil {
		return nil, err
	}
	start = time.Now()
	labels := relabel.Relabel(t)
	observe(metrics.StageRelabel, start)
	start = time.Now()
	seq, err := sequence.Generate(t, labels)
	observe(metrics.StageSequence, start)
	if err != nil {
		return nil, fmt.Errorf("generate sequence for admission %s: %w", rec.ID(), err)
	}
	return &Canonical{Record: rec, Tree: t, Labels: labels, Sequence: seq}, nil
}

// Summary builds the metadata row for c.
func (c *Canonical) Summary(embeddingModel string) *models.AdmissionSummary {
	rec := c.Record
	return &models.AdmissionSummary{
		AdmissionID:    rec.ID(),
		PatientID:      rec.PatientID(),
		AdmitTime:      rec.AdmitTime(),
		DischargeTime:  rec.DischargeTime(),
		Source:         rec.Source(),
		RootLabel:      c.Labels.Root().String(),
		Sequence:       c.Sequence.String(),
		SequenceLength: len(c.Sequence),
		EventCount:     rec.Len(),
		DroppedCount:   len(rec.Dropped()),
		DayCount:       c.Tree.CountLevel(tree.LevelDay),
		EmbeddingModel: embeddingModel,
	}
}
