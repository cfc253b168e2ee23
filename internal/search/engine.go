// Package search answers similarity, concept, and structural-twin queries over processed admissions.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/metrics"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/storage"
	"github.com/hyperjump/uttree/internal/vector"
)

// ErrConceptsDisabled is returned by FindByConcept when no concept index is configured.
var ErrConceptsDisabled = errors.New("concept index not configured")

// Engine runs queries against the similarity index, concept index, and storage.
type Engine struct {
	store    storage.Storage
	index    vector.SimilarityIndex
	concepts keyword.ConceptIndex
	metrics  *metrics.PipelineMetrics
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine. concepts may be nil.
func NewEngine(store storage.Storage, index vector.SimilarityIndex, concepts keyword.ConceptIndex, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		index:    index,
		concepts: concepts,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SimilarTo returns the k admissions nearest to admission id, excluding id
// itself. The vector comes from the index, or from storage when the index has
// not been loaded with it yet.
func (e *Engine) SimilarTo(ctx context.Context, id string, k int) (*models.SimilarityResponse, error) {
	start := time.Now()
	k = models.ClampK(k)
	vec, ok := e.index.Get(ctx, id)
	if !ok {
		stored, err := e.store.GetEmbedding(ctx, id)
		if err != nil {
			return nil, err
		}
		vec = stored
	}

	neighbors, err := e.query(ctx, vec, k+1)
	if err != nil {
		return nil, err
	}
	others := neighbors[:0]
	for _, n := range neighbors {
		if n.ID != id {
			others = append(others, n)
		}
	}
	if len(others) > k {
		others = others[:k]
	}
	resp, err := e.respond(ctx, others, start)
	if err != nil {
		return nil, err
	}
	resp.Query = id
	return resp, nil
}

// SimilarToVector returns the admissions nearest to a raw embedding.
func (e *Engine) SimilarToVector(ctx context.Context, q *models.SimilarityQuery) (*models.SimilarityResponse, error) {
	start := time.Now()
	if err := processSimilarityQuery(q, e.index.Dimensions()); err != nil {
		return nil, err
	}
	neighbors, err := e.query(ctx, q.Vector, q.K)
	if err != nil {
		return nil, err
	}
	return e.respond(ctx, neighbors, start)
}

func (e *Engine) query(ctx context.Context, vec []float32, k int) ([]vector.Neighbor, error) {
	start := time.Now()
	defer e.metrics.ObserveQuery(start)
	return e.index.Query(ctx, vec, k)
}

// respond hydrates neighbors with their stored summaries. Neighbors whose
// summary is missing are still returned, with only id and distance.
func (e *Engine) respond(ctx context.Context, neighbors []vector.Neighbor, start time.Time) (*models.SimilarityResponse, error) {
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	summaries, err := e.store.GetSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load admission summaries: %w", err)
	}
	resp := &models.SimilarityResponse{
		Metric:  string(e.index.Metric()),
		Results: make([]*models.Neighbor, 0, len(neighbors)),
		Total:   len(neighbors),
	}
	for i, n := range neighbors {
		hit := &models.Neighbor{AdmissionID: n.ID, Distance: n.Distance, Rank: i + 1}
		if sum, ok := summaries[n.ID]; ok {
			hit.PatientID = sum.PatientID
			hit.RootLabel = sum.RootLabel
			hit.SequenceLength = sum.SequenceLength
		} else {
			e.logger.Warn("Indexed admission has no stored summary", zap.String("admission_id", n.ID))
		}
		resp.Results = append(resp.Results, hit)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// FindByConcept finds admissions whose event values match q. A spelling
// suggestion is computed alongside the search.
func (e *Engine) FindByConcept(ctx context.Context, q *models.ConceptQuery) (*models.ConceptResponse, error) {
	start := time.Now()
	if e.concepts == nil {
		return nil, ErrConceptsDisabled
	}
	opts, err := processConceptQuery(q)
	if err != nil {
		return nil, err
	}

	var (
		hits       []*keyword.ConceptResult
		suggestion string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.concepts.Search(gctx, q.Query, q.Limit, opts)
		if err != nil {
			return fmt.Errorf("concept search failed: %w", err)
		}
		hits = res
		return nil
	})
	g.Go(func() error {
		s, err := e.concepts.Suggest(gctx, q.Query)
		if err != nil {
			e.logger.Debug("Concept suggestion failed", zap.String("query", q.Query), zap.Error(err))
			return nil
		}
		suggestion = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	summaries, err := e.store.GetSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load admission summaries: %w", err)
	}
	resp := &models.ConceptResponse{
		Query:          q.Query,
		Results:        make([]*models.ConceptHit, 0, len(hits)),
		SuggestedQuery: suggestion,
		Total:          len(hits),
	}
	for i, h := range hits {
		hit := &models.ConceptHit{
			AdmissionID: h.ID,
			PatientID:   h.PatientID,
			Score:       h.Score,
			Fragments:   h.Fragments,
			Rank:        i + 1,
		}
		if sum, ok := summaries[h.ID]; ok {
			hit.RootLabel = sum.RootLabel
		}
		resp.Results = append(resp.Results, hit)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// StructuralTwins lists the other admissions whose canonical tree is
// identical to admission id's.
func (e *Engine) StructuralTwins(ctx context.Context, id string) ([]*models.AdmissionSummary, error) {
	sum, err := e.store.GetSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := e.store.FindByRootLabel(ctx, sum.RootLabel)
	if err != nil {
		return nil, err
	}
	twins := make([]*models.AdmissionSummary, 0, len(all))
	for _, s := range all {
		if s.AdmissionID != id {
			twins = append(twins, s)
		}
	}
	return twins, nil
}
