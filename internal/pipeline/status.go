package pipeline

import (
	"context"
	"fmt"
)

// Status describes what the pipeline has processed so far.
type Status struct {
	Admissions     int64  `json:"admissions"`
	Quadruples     int64  `json:"quadruples"`
	IndexSize      int    `json:"index_size"`
	IndexType      string `json:"index_type"`
	Metric         string `json:"metric"`
	Dimensions     int    `json:"dimensions"`
	EmbeddingModel string `json:"embedding_model"`
	ConceptDocs    uint64 `json:"concept_documents,omitempty"`
	Workers        int    `json:"workers"`
}

// Status counts stored admissions and quadruples and describes the index.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	admissions, err := p.store.CountAdmissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count admissions: %w", err)
	}
	quadruples, err := p.store.CountQuadruples(ctx)
	if err != nil {
		return nil, fmt.Errorf("count quadruples: %w", err)
	}
	st := &Status{
		Admissions:     admissions,
		Quadruples:     quadruples,
		IndexSize:      p.index.Size(),
		IndexType:      p.index.Type(),
		Metric:         string(p.index.Metric()),
		Dimensions:     p.index.Dimensions(),
		EmbeddingModel: p.embedder.Model(),
		Workers:        p.workers,
	}
	if p.concepts != nil {
		if n, err := p.concepts.DocCount(); err == nil {
			st.ConceptDocs = n
		}
	}
	return st, nil
}
