// Package graph links processed admissions to their nodes in a Neo4j knowledge graph.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/config"
	"github.com/hyperjump/uttree/internal/models"
)

// Linker records an admission's canonical root label and embedding model on
// its graph node, so graph queries can join against the similarity index.
type Linker interface {
	Link(ctx context.Context, sum *models.AdmissionSummary) error
	Unlink(ctx context.Context, admissionID string) error
	Close(ctx context.Context) error
}

// NopLinker does nothing. Used when graph linking is disabled.
type NopLinker struct{}

func (NopLinker) Link(context.Context, *models.AdmissionSummary) error { return nil }
func (NopLinker) Unlink(context.Context, string) error { return nil }
func (NopLinker) Close(context.Context) error { return nil }

const linkQuery = `MERGE (a:Admission {hadm_id: $hadm_id})
SET a.subject_id = $subject_id,
    a.uttree_root_label = $root_label,
    a.uttree_sequence_length = $sequence_length,
    a.uttree_embedding_model = $embedding_model,
    a.uttree_updated_at = datetime()`

const unlinkQuery = `MATCH (a:Admission {hadm_id: $hadm_id})
REMOVE a.uttree_root_label, a.uttree_sequence_length, a.uttree_embedding_model, a.uttree_updated_at`

type queryFunc func(ctx context.Context, query string, params map[string]any) error

// Neo4jLinker implements Linker over the Neo4j Bolt driver.
type Neo4jLinker struct {
	run    queryFunc
	close  func(context.Context) error
	logger *zap.Logger
}

// NewNeo4jLinker connects to cfg.URI and verifies connectivity.
func NewNeo4jLinker(ctx context.Context, cfg config.GraphConfig, logger *zap.Logger) (*Neo4jLinker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password(), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}
	logger.Info("Connected to graph database", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))

	run := func(ctx context.Context, query string, params map[string]any) error {
		opts := []neo4j.ExecuteQueryConfigurationOption{}
		if cfg.Database != "" {
			opts = append(opts, neo4j.ExecuteQueryWithDatabase(cfg.Database))
		}
		_, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
		return err
	}
	return newNeo4jLinker(run, driver.Close, logger), nil
}

func newNeo4jLinker(run queryFunc, closeFn func(context.Context) error, logger *zap.Logger) *Neo4jLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Neo4jLinker{run: run, close: closeFn, logger: logger}
}

// Link merges the admission node and sets its uttree properties.
func (l *Neo4jLinker) Link(ctx context.Context, sum *models.AdmissionSummary) error {
	err := l.run(ctx, linkQuery, map[string]any{
		"hadm_id":         sum.AdmissionID,
		"subject_id":      sum.PatientID,
		"root_label":      sum.RootLabel,
		"sequence_length": int64(sum.SequenceLength),
		"embedding_model": sum.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("failed to link admission %s: %w", sum.AdmissionID, err)
	}
	l.logger.Debug("Linked admission in graph", zap.String("admission_id", sum.AdmissionID))
	return nil
}

// Unlink removes the uttree properties from the admission node. The node itself is kept.
func (l *Neo4jLinker) Unlink(ctx context.Context, admissionID string) error {
	if err := l.run(ctx, unlinkQuery, map[string]any{"hadm_id": admissionID}); err != nil {
		return fmt.Errorf("failed to unlink admission %s: %w", admissionID, err)
	}
	return nil
}

// Close closes the driver.
func (l *Neo4jLinker) Close(ctx context.Context) error {
	if l.close == nil {
		return nil
	}
	return l.close(ctx)
}
