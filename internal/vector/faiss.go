//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/pkg/utils"
)

// FAISSIndex wraps a FAISS flat index. Flat indexes are exhaustive, so
// results match MemoryIndex. Cosine uses an inner-product index over
// unit-normalized copies; Euclidean uses an L2 index.
//
// FAISS flat indexes cannot remove single rows, so overwritten and deleted
// entries become tombstones that queries skip. Save compacts them away.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	metric     Metric
	idToIntID  map[string]int64
	intIDToID  map[int64]string
	vectors    map[string][]float32
	nextID     int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS flat index with the given dimension and metric.
func NewFAISSIndex(dimensions int, metric Metric) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	index, err := newFlat(dimensions, metric)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		metric:     metric,
		idToIntID:  make(map[string]int64),
		intIDToID:  make(map[int64]string),
		vectors:    make(map[string][]float32),
	}, nil
}

func newFlat(dimensions int, metric Metric) (*C.FaissIndex, error) {
	var ret C.int
	var index *C.FaissIndex
	if metric == MetricCosine {
		var ip *C.FaissIndexFlatIP
		ret = C.faiss_IndexFlatIP_new_with(&ip, C.idx_t(dimensions))
		index = (*C.FaissIndex)(unsafe.Pointer(ip))
	} else {
		var l2 *C.FaissIndexFlatL2
		ret = C.faiss_IndexFlatL2_new_with(&l2, C.idx_t(dimensions))
		index = (*C.FaissIndex)(unsafe.Pointer(l2))
	}
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return index, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }
func (f *FAISSIndex) Dimensions() int { return f.dimensions }
func (f *FAISSIndex) Metric() Metric { return f.metric }

func (f *FAISSIndex) prepare(v []float32) []float32 {
	out := append([]float32(nil), v...)
	if f.metric == MetricCosine {
		utils.NormalizeL2(out)
	}
	return out
}

// addLocked appends one row. Caller holds the write lock.
func (f *FAISSIndex) addLocked(id string, vec []float32) error {
	row := f.prepare(vec)
	if ret := C.faiss_Index_add(f.index, 1, (*C.float)(unsafe.Pointer(&row[0]))); ret != 0 {
		return fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}
	f.idToIntID[id] = f.nextID
	f.intIDToID[f.nextID] = id
	f.vectors[id] = append([]float32(nil), vec...)
	f.nextID++
	return nil
}

// Upsert inserts or overwrites the vector for id.
func (f *FAISSIndex) Upsert(ctx context.Context, id string, vector []float32) (UpsertResult, error) {
	if id == "" {
		return UpsertResult{}, fmt.Errorf("id cannot be empty")
	}
	if len(vector) != f.dimensions {
		return UpsertResult{}, &models.DimensionMismatchError{Want: f.dimensions, Got: len(vector)}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	old, dup := f.idToIntID[id]
	if dup {
		delete(f.intIDToID, old)
	}
	if err := f.addLocked(id, vector); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Duplicate: dup}, nil
}

// Query returns the k nearest live entries.
func (f *FAISSIndex) Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if len(vector) != f.dimensions {
		return nil, &models.DimensionMismatchError{Want: f.dimensions, Got: len(vector)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.idToIntID) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	// Over-fetch by the tombstone count, plus one so ties at the cutoff can
	// be reordered by id.
	fetch := k + (ntotal - len(f.idToIntID)) + 1
	if fetch > ntotal {
		fetch = ntotal
	}
	distances := make([]float32, fetch)
	labels := make([]int64, fetch)
	q := f.prepare(vector)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&q[0])),
		C.idx_t(fetch),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	results := make([]Neighbor, 0, fetch)
	for i := 0; i < fetch; i++ {
		id, ok := f.intIDToID[labels[i]]
		if labels[i] < 0 || !ok {
			continue
		}
		var d float64
		if f.metric == MetricCosine {
			d = 1 - math.Max(-1, math.Min(1, float64(distances[i])))
		} else {
			// IndexFlatL2 reports squared distances.
			d = math.Sqrt(math.Max(0, float64(distances[i])))
		}
		results = append(results, Neighbor{ID: id, Distance: d})
	}
	sortNeighbors(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k:k], nil
}

// Delete tombstones id; absent ids are a no-op.
func (f *FAISSIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intID, ok := f.idToIntID[id]; ok {
		delete(f.intIDToID, intID)
		delete(f.idToIntID, id)
		delete(f.vectors, id)
	}
	return nil
}

// Get returns a copy of the vector stored for id.
func (f *FAISSIndex) Get(ctx context.Context, id string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vectors[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

type faissSnapshot struct {
	Metric     Metric
	Dimensions int
	IDs        []string
	Vectors    [][]float32
}

// Save writes the live entries to path as a gob snapshot. The FAISS index is
// rebuilt from it on Load, which drops tombstones.
func (f *FAISSIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	snap := faissSnapshot{Metric: f.metric, Dimensions: f.dimensions}
	for id := range f.vectors {
		snap.IDs = append(snap.IDs, id)
	}
	sort.Strings(snap.IDs)
	for _, id := range snap.IDs {
		snap.Vectors = append(snap.Vectors, f.vectors[id])
	}
	f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return nil
}

// Load rebuilds the index from a snapshot. A missing file leaves it unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	var snap faissSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	if snap.Metric != f.metric {
		return fmt.Errorf("metric mismatch: file has %s, index uses %s", snap.Metric, f.metric)
	}
	if snap.Dimensions != f.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", models.ErrDimensionMismatch, snap.Dimensions, f.dimensions)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ret := C.faiss_Index_reset(f.index); ret != 0 {
		return fmt.Errorf("reset FAISS index: %s", faissLastError())
	}
	f.idToIntID = make(map[string]int64, len(snap.IDs))
	f.intIDToID = make(map[int64]string, len(snap.IDs))
	f.vectors = make(map[string][]float32, len(snap.IDs))
	f.nextID = 0
	for i, id := range snap.IDs {
		if err := f.addLocked(id, snap.Vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of live entries.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToIntID)
}

// Close frees the FAISS index.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
