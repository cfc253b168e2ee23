// Package keyword indexes the event values of each admission for concept lookup.
package keyword

import (
	"context"

	"github.com/hyperjump/uttree/internal/models"
)

// SearchOptions optional parameters for concept search. Nil means use defaults.
type SearchOptions struct {
	// Fuzzy enables typo-tolerant term matching.
	Fuzzy bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	// Default is 1 when Fuzzy is true.
	Fuzziness int
	// Category restricts matching to events of one category. Zero searches all events.
	Category models.Category
}

// ConceptIndex finds admissions by the clinical concepts recorded in their events.
type ConceptIndex interface {
	IndexAdmission(ctx context.Context, rec *models.AdmissionRecord, rootLabel string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*ConceptResult, error)
	// Suggest returns a corrected query built from indexed terms, or "" when
	// every query term is already known or no close term exists.
	Suggest(ctx context.Context, query string) (string, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the number of indexed admissions.
	DocCount() (uint64, error)
	Close() error
}

// ConceptResult is a single concept search hit.
type ConceptResult struct {
	ID        string
	PatientID string
	Score     float64
	// Fragments are highlighted snippets of the matching event values.
	Fragments []string
}
