//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"context"
	"path/filepath"
	"testing"
)

// Both backends must agree on every query.
func TestFAISSIndex_MatchesMemory(t *testing.T) {
	for _, metric := range []Metric{MetricEuclidean, MetricCosine} {
		t.Run(string(metric), func(t *testing.T) {
			ctx := context.Background()
			mem, _ := NewMemoryIndex(2, metric)
			fa, err := NewFAISSIndex(2, metric)
			if err != nil {
				t.Fatal(err)
			}
			defer fa.Close()

			points := map[string][]float32{
				"a": {1, 0}, "b": {0, 2}, "c": {3, 0.1}, "d": {0.2, 0.5}, "e": {-4, -4},
			}
			for id, v := range points {
				_, _ = mem.Upsert(ctx, id, v)
				if _, err := fa.Upsert(ctx, id, v); err != nil {
					t.Fatal(err)
				}
			}
			// Overwrite and delete leave tombstones in FAISS.
			_, _ = mem.Upsert(ctx, "a", []float32{0.5, 0.5})
			_, _ = fa.Upsert(ctx, "a", []float32{0.5, 0.5})
			_ = mem.Delete(ctx, "e")
			_ = fa.Delete(ctx, "e")

			want, _ := mem.Query(ctx, []float32{0.3, 0.3}, 3)
			got, err := fa.Query(ctx, []float32{0.3, 0.3}, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(want) {
				t.Fatalf("got %d results, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].ID != want[i].ID {
					t.Errorf("rank %d: got %s, want %s", i, got[i].ID, want[i].ID)
				}
			}
		})
	}
}

func TestFAISSIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.faiss")
	idx, _ := NewFAISSIndex(3, MetricCosine)
	defer idx.Close()
	_, _ = idx.Upsert(ctx, "a", []float32{1, 0, 0})
	_, _ = idx.Upsert(ctx, "b", []float32{0, 1, 0})
	_ = idx.Delete(ctx, "b")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewFAISSIndex(3, MetricCosine)
	defer loaded.Close()
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 1 {
		t.Errorf("Size=%d, want 1", loaded.Size())
	}
	res, err := loaded.Query(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "a" {
		t.Errorf("unexpected results %+v", res)
	}
}
