// Package embedding turns token sequences into vectors. Providers sit behind
// the Embedder interface and are composed with caching, retry, and circuit
// breaking wrappers.
package embedding

import "context"

// Embedder produces vector embeddings for sequence text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies the model and version, recorded next to each stored vector.
	Model() string
	Close() error
}

// embedEach implements EmbedBatch by calling embed for each text.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
