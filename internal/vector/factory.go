package vector

import "fmt"

// IndexType represents the type of similarity index to use.
type IndexType string

const (
	// IndexTypeMemory uses exact in-memory brute-force search.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses a FAISS flat index. Still exact; requires the FAISS
	// C library and building with -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewSimilarityIndex creates an index of the given type, dimension, and metric.
// Supported types: "memory" (default), "faiss".
func NewSimilarityIndex(indexType string, dimensions int, metric Metric) (SimilarityIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions, metric)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions, metric)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, MetricEuclidean)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
