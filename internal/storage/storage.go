// Package storage defines the persistence interface for admissions and their events.
package storage

import (
	"context"

	"github.com/hyperjump/uttree/internal/models"
)

// Storage persists processed admissions: their metadata row, the ordered
// quadruples they were built from, and the embedding stored in the index.
type Storage interface {
	// Admission operations
	SaveAdmission(ctx context.Context, summary *models.AdmissionSummary, events []models.Quadruple, embedding []float32) error
	GetAdmission(ctx context.Context, id string) (*models.AdmissionDetail, error)
	GetSummary(ctx context.Context, id string) (*models.AdmissionSummary, error)
	GetSummaries(ctx context.Context, ids []string) (map[string]*models.AdmissionSummary, error)
	GetEmbedding(ctx context.Context, id string) ([]float32, error)
	ListAdmissions(ctx context.Context, offset, limit int) ([]*models.AdmissionSummary, error)
	DeleteAdmission(ctx context.Context, id string) error

	// Lookups
	FindByRootLabel(ctx context.Context, rootLabel string) ([]*models.AdmissionSummary, error)
	IDsBySource(ctx context.Context, source string) ([]string, error)
	ForEachEmbedding(ctx context.Context, fn func(id string, vec []float32) error) error

	// Source files
	SaveSource(ctx context.Context, src *models.SourceFile) error
	GetSource(ctx context.Context, key string) (*models.SourceFile, error)
	DeleteSource(ctx context.Context, key string) error

	// Stats
	CountAdmissions(ctx context.Context) (int64, error)
	CountQuadruples(ctx context.Context) (int64, error)

	Close() error
}
