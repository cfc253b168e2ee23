package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/uttree/internal/models"
)

type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. Pointing
// BaseURL at Ollama's /v1 serves local models such as mxbai-embed-large.
type OpenAIEmbedder struct {
	client     embeddingClient
	model      string
	dimensions int
	timeout    time.Duration
}

// NewOpenAIEmbedder creates an embedder for model at baseURL. An empty baseURL
// uses api.openai.com. Each request is bounded by timeout when positive.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, timeout time.Duration) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIEmbedder(openai.NewClientWithConfig(cfg), model, dimensions, timeout)
}

func newOpenAIEmbedder(client embeddingClient, model string, dimensions int, timeout time.Duration) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions, timeout: timeout}
}

// Embed returns the embedding for one sequence.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends all texts in one request and checks every returned vector's dimension.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings (%s): %w", e.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, item := range resp.Data {
		pos := item.Index
		if pos < 0 || pos >= len(out) || out[pos] != nil {
			pos = i
		}
		if len(item.Embedding) != e.dimensions {
			return nil, &models.DimensionMismatchError{Want: e.dimensions, Got: len(item.Embedding)}
		}
		out[pos] = item.Embedding
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the remote model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Close is a no-op; the HTTP client holds no resources that need release.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
