// Package pipeline turns admissions into canonical sequences, embeds them, and
// keeps the similarity index, storage, concept index, and graph in step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/embedding"
	"github.com/hyperjump/uttree/internal/graph"
	"github.com/hyperjump/uttree/internal/ingest"
	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/internal/vector"
)

// Pipeline processes admissions into the similarity index.
type Pipeline struct {
	store    storage.Storage
	embedder embedding.Embedder
	index    vector.SimilarityIndex
	concepts keyword.ConceptIndex // optional
	linker   graph.Linker
	metrics  *metrics.PipelineMetrics
	reader   *ingest.Reader
	workers  int
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for dropped events, skipped admissions, and duplicate upserts.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithConceptIndex indexes each admission's event values for concept lookup.
func WithConceptIndex(c keyword.ConceptIndex) Option {
	return func(p *Pipeline) { p.concepts = c }
}

// WithLinker links each processed admission in a graph database.
func WithLinker(l graph.Linker) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.linker = l
		}
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkers sets the batch worker count. Values below 1 mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithReader sets the file reader (and so the time zone for offset-less timestamps).
func WithReader(r *ingest.Reader) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reader = r
		}
	}
}

// New creates a pipeline over the given storage, embedder, and index.
func New(store storage.Storage, embedder embedding.Embedder, index vector.SimilarityIndex, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		index:    index,
		linker:   graph.NopLinker{},
		reader:   ingest.NewReader(time.UTC),
		workers:  runtime.NumCPU(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of processing one admission.
type Result struct {
	AdmissionID    string `json:"admission_id"`
	Status         string `json:"status"`
	RootLabel      string `json:"root_label,omitempty"`
	SequenceLength int    `json:"sequence_length,omitempty"`
	EventCount     int    `json:"event_count"`
	DroppedCount   int    `json:"dropped_count"`
	// Duplicate is true when the admission replaced an existing index entry.
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessAdmission validates in and processes it.
func (p *Pipeline) ProcessAdmission(ctx context.Context, in *models.AdmissionInput) (*Result, error) {
	rec, err := in.Record()
	if err != nil {
		p.metrics.ObserveAdmission(metrics.StatusFailed)
		return &Result{AdmissionID: in.AdmissionID, Status: metrics.StatusFailed, Error: err.Error()}, err
	}
	return p.ProcessRecord(ctx, rec)
}

// ProcessRecord runs build, relabel, sequence, embed, upsert, and persist for
// one admission, then updates the concept index and graph. Re-processing an
// admission overwrites it. An admission with no valid events is skipped with
// an *models.EmptyAdmissionError.
func (p *Pipeline) ProcessRecord(ctx context.Context, rec *models.AdmissionRecord) (*Result, error) {
	res := &Result{AdmissionID: rec.ID(), EventCount: rec.Len()}
	dropped := rec.Dropped()
	res.DroppedCount = len(dropped)
	for _, d := range dropped {
		p.logger.Warn("Dropped malformed event",
			zap.String("admission_id", d.AdmissionID),
			zap.Int("index", d.Index),
			zap.String("reason", d.Reason))
	}
	p.metrics.ObserveDropped(len(dropped))

	c, err := p.canonicalize(rec)
	if err != nil {
		var empty *models.EmptyAdmissionError
		if errors.As(err, &empty) {
			p.logger.Warn("Skipping admission", zap.String("admission_id", rec.ID()), zap.String("reason", err.Error()))
			return p.finish(res, metrics.StatusSkipped, err)
		}
		return p.finish(res, metrics.StatusFailed, err)
	}
	res.RootLabel = c.RootLabel().String()
	res.SequenceLength = len(c.Sequence)

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, c.Sequence.String())
	p.metrics.ObserveStage(metrics.StageEmbed, start)
	if err != nil {
		return p.finish(res, metrics.StatusFailed, fmt.Errorf("embed admission %s: %w", rec.ID(), err))
	}

	prev, hadPrev := p.index.Get(ctx, rec.ID())
	start = time.Now()
	up, err := p.index.Upsert(ctx, rec.ID(), vec)
	p.metrics.ObserveStage(metrics.StageUpsert, start)
	if err != nil {
		return p.finish(res, metrics.StatusFailed, fmt.Errorf("index admission %s: %w", rec.ID(), err))
	}
	if up.Duplicate {
		res.Duplicate = true
		w := &models.DuplicateAdmissionWarning{AdmissionID: rec.ID()}
		p.logger.Warn(w.Error(), zap.String("admission_id", rec.ID()))
	}

	sum := c.Summary(p.embedder.Model())
	start = time.Now()
	err = p.store.SaveAdmission(ctx, sum, rec.Events(), vec)
	p.metrics.ObserveStage(metrics.StagePersist, start)
	if err != nil {
		p.rollback(ctx, rec.ID(), prev, hadPrev)
		return p.finish(res, metrics.StatusFailed, fmt.Errorf("persist admission %s: %w", rec.ID(), err))
	}
	p.metrics.SetIndexSize(p.index.Size())

	if p.concepts != nil {
		if err := p.concepts.IndexAdmission(ctx, rec, sum.RootLabel); err != nil {
			p.logger.Warn("Failed to index admission concepts", zap.String("admission_id", rec.ID()), zap.Error(err))
		}
	}
	if err := p.linker.Link(ctx, sum); err != nil {
		p.logger.Warn("Failed to link admission in graph", zap.String("admission_id", rec.ID()), zap.Error(err))
	}

	p.logger.Debug("Admission processed",
		zap.String("admission_id", rec.ID()),
		zap.String("root_label", res.RootLabel),
		zap.Int("sequence_length", res.SequenceLength))
	return p.finish(res, metrics.StatusProcessed, nil)
}

// rollback returns the index entry for id to its state before a failed persist.
func (p *Pipeline) rollback(ctx context.Context, id string, prev []float32, hadPrev bool) {
	var err error
	if hadPrev {
		_, err = p.index.Upsert(ctx, id, prev)
	} else {
		err = p.index.Delete(ctx, id)
	}
	if err != nil {
		p.logger.Error("Failed to roll back index entry", zap.String("admission_id", id), zap.Error(err))
	}
}

func (p *Pipeline) canonicalize(rec *models.AdmissionRecord) (*Canonical, error) {
	return canonicalize(rec, p.metrics.ObserveStage)
}

func (p *Pipeline) finish(res *Result, status string, err error) (*Result, error) {
	res.Status = status
	if err != nil {
		res.Error = err.Error()
		if status == metrics.StatusFailed {
			p.logger.Error("Admission failed", zap.String("admission_id", res.AdmissionID), zap.Error(err))
		}
	}
	p.metrics.ObserveAdmission(status)
	return res, err
}

// DeleteAdmission removes an admission from the index, storage, concept index, and graph.
// Returns models.ErrAdmissionNotFound when the admission is unknown.
func (p *Pipeline) DeleteAdmission(ctx context.Context, id string) error {
	_, inIndex := p.index.Get(ctx, id)
	_, err := p.store.GetSummary(ctx, id)
	if err != nil && !errors.Is(err, models.ErrAdmissionNotFound) {
		return err
	}
	if err != nil && !inIndex {
		return err
	}
	if err := p.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from similarity index: %w", err)
	}
	if err := p.store.DeleteAdmission(ctx, id); err != nil {
		return fmt.Errorf("failed to delete admission: %w", err)
	}
	if p.concepts != nil {
		if err := p.concepts.Delete(ctx, id); err != nil {
			p.logger.Warn("Failed to delete admission concepts", zap.String("admission_id", id), zap.Error(err))
		}
	}
	if err := p.linker.Unlink(ctx, id); err != nil {
		p.logger.Warn("Failed to unlink admission in graph", zap.String("admission_id", id), zap.Error(err))
	}
	p.metrics.SetIndexSize(p.index.Size())
	p.logger.Debug("Admission deleted", zap.String("admission_id", id))
	return nil
}

// RebuildIndex loads every stored embedding into the similarity index. Used
// at startup when no snapshot exists or the snapshot is stale.
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, error) {
	n := 0
	err := p.store.ForEachEmbedding(ctx, func(id string, vec []float32) error {
		if len(vec) != p.index.Dimensions() {
			p.logger.Warn("Skipping stored embedding with wrong dimensions",
				zap.String("admission_id", id),
				zap.Int("dimensions", len(vec)),
				zap.Int("expected", p.index.Dimensions()))
			return nil
		}
		if _, err := p.index.Upsert(ctx, id, vec); err != nil {
			return err
		}
		n++
		return nil
	})
	p.metrics.SetIndexSize(p.index.Size())
	return n, err
}
