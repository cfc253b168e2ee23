package models

import (
	"fmt"
	"strings"
)

const (
	DefaultK = 10
	MaxK     = 100
)

// SimilarityQuery is a nearest-neighbor request by raw vector.
type SimilarityQuery struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k,omitempty"`
}

// Validate ensures the query has a vector and normalizes K.
func (q *SimilarityQuery) Validate() error {
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidQuery)
	}
	q.K = ClampK(q.K)
	return nil
}

// ConceptQuery is a keyword lookup over admission event values.
type ConceptQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Fuzzy bool   `json:"fuzzy,omitempty"`
	// Category restricts matching to one event category, e.g. "Drug".
	Category string `json:"category,omitempty"`
}

// Validate ensures the query is not empty and normalizes Limit.
func (q *ConceptQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.Category != "" {
		if _, err := ParseCategory(q.Category); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	q.Limit = ClampK(q.Limit)
	return nil
}

// ClampK maps k into [1, MaxK], using DefaultK for non-positive values.
func ClampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}
