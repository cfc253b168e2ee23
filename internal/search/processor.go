package search

import (
	"github.com/hyperjump/uttree/internal/keyword"
	"github.com/hyperjump/uttree/internal/models"
)

// processSimilarityQuery validates q, applies defaults, and checks the vector
// against the index dimensionality.
func processSimilarityQuery(q *models.SimilarityQuery, dims int) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if len(q.Vector) != dims {
		return &models.DimensionMismatchError{Want: dims, Got: len(q.Vector)}
	}
	return nil
}

// processConceptQuery validates q and converts it to index search options.
func processConceptQuery(q *models.ConceptQuery) (*keyword.SearchOptions, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	opts := &keyword.SearchOptions{Fuzzy: q.Fuzzy}
	if q.Category != "" {
		c, err := models.ParseCategory(q.Category)
		if err != nil {
			return nil, err
		}
		opts.Category = c
	}
	return opts, nil
}
