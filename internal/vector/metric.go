package vector

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Metric selects the distance function.
type Metric string

const (
	// MetricCosine is 1 - cosine similarity, in [0, 2].
	MetricCosine Metric = "cosine"
	// MetricEuclidean is the L2 distance.
	MetricEuclidean Metric = "euclidean"
)

// ParseMetric parses a metric name. Empty selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricEuclidean, "l2":
		return MetricEuclidean, nil
	}
	return "", fmt.Errorf("unknown metric: %s (supported: cosine, euclidean)", s)
}

// Distance returns the distance between a and b, which must have equal length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricEuclidean {
		return EuclideanDistance(a, b)
	}
	return CosineDistance(a, b)
}

// InnerProduct returns the inner product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cos(a, b). A zero vector is treated as
// orthogonal to everything (distance 1).
func CosineDistance(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	cos := InnerProduct(a, b) / (na * nb)
	cos = math.Max(-1, math.Min(1, cos))
	return 1 - cos
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// sortNeighbors orders by ascending distance, ties by id.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].ID < ns[j].ID
	})
}
