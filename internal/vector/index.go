// Package vector provides the similarity index over admission embeddings.
package vector

import "context"

// SimilarityIndex stores one fixed-dimension vector per admission id and
// answers exact k-nearest-neighbor queries. Implementations are safe for
// concurrent use.
type SimilarityIndex interface {
	// Upsert inserts or overwrites the vector for id.
	Upsert(ctx context.Context, id string, vector []float32) (UpsertResult, error)
	// Query returns up to k entries ordered by ascending distance, ties by id.
	Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	// Delete removes id; deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
	// Get returns a copy of the stored vector.
	Get(ctx context.Context, id string) ([]float32, bool)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Metric() Metric
	Type() string
	Close() error
}

// Neighbor is a single query hit.
type Neighbor struct {
	ID       string
	Distance float64
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	// Duplicate is true when an existing entry was overwritten.
	Duplicate bool
}
