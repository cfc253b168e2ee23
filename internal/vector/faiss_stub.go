//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errNoFAISS = errors.New("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a placeholder used when FAISS support is not compiled in.
type FAISSIndex struct{}

// NewFAISSIndex always fails without the faiss build tag.
func NewFAISSIndex(dimensions int, metric Metric) (*FAISSIndex, error) {
	return nil, errNoFAISS
}

func (f *FAISSIndex) Upsert(ctx context.Context, id string, vector []float32) (UpsertResult, error) {
	return UpsertResult{}, errNoFAISS
}

func (f *FAISSIndex) Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	return nil, errNoFAISS
}

func (f *FAISSIndex) Delete(ctx context.Context, id string) error { return errNoFAISS }
func (f *FAISSIndex) Get(ctx context.Context, id string) ([]float32, bool) { return nil, false }
func (f *FAISSIndex) Save(path string) error { return errNoFAISS }
func (f *FAISSIndex) Load(path string) error { return errNoFAISS }
func (f *FAISSIndex) Size() int { return 0 }
func (f *FAISSIndex) Dimensions() int { return 0 }
func (f *FAISSIndex) Metric() Metric { return "" }
func (f *FAISSIndex) Close() error { return nil }
func (f *FAISSIndex) Type() string { return string(IndexTypeFAISS) }
