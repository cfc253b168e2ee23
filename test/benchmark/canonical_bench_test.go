package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/hyperjump/uttree/internal/embedding"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/pipeline"
	"github.com/hyperjump/uttree/internal/vector"
)

func benchAdmission(b *testing.B, events int) *models.AdmissionRecord {
	b.Helper()
	admit := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	types := models.TemporalTypes
	cats := []models.Category{models.Diagnosis, models.Drug, models.Lab, models.Procedure, models.ExtractedConcept}
	qs := make([]models.Quadruple, events)
	for i := range qs {
		qs[i] = models.Quadruple{
			Timestamp:    admit.Add(time.Duration(i) * 47 * time.Minute),
			TemporalType: types[i%len(types)],
			Category:     cats[i%len(cats)],
			Value:        models.Text(fmt.Sprintf("concept-%d", i%37)),
		}
	}
	rec, err := models.NewAdmissionRecord("bench", "p1", admit, time.Time{}, qs)
	if err != nil {
		b.Fatal(err)
	}
	return rec
}

func BenchmarkCanonicalize(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		rec := benchAdmission(b, n)
		b.Run(fmt.Sprintf("events=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := pipeline.Canonicalize(rec); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMemoryIndexQuery(b *testing.B) {
	const dims = 384
	for _, metric := range []vector.Metric{vector.MetricCosine, vector.MetricEuclidean} {
		idx, err := vector.NewMemoryIndex(dims, metric)
		if err != nil {
			b.Fatal(err)
		}
		ctx := context.Background()
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 1000; i++ {
			vec := make([]float32, dims)
			for j := range vec {
				vec[j] = rng.Float32()
			}
			if _, err := idx.Upsert(ctx, fmt.Sprintf("adm-%04d", i), vec); err != nil {
				b.Fatal(err)
			}
		}
		query := make([]float32, dims)
		query[0] = 1.0
		b.Run(string(metric), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = idx.Query(ctx, query, 10)
			}
		})
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	seq, err := pipeline.Canonicalize(benchAdmission(b, 50))
	if err != nil {
		b.Fatal(err)
	}
	text := seq.Sequence.String()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, text)
	}
}
