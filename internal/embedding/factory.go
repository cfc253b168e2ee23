package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/config"
)

// New builds the configured provider and wraps it, innermost first, with the
// circuit breaker, retries, and the LRU cache. The mock provider is only cached.
func New(cfg config.EmbeddingConfig, dimensions int, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base Embedder
	switch cfg.Provider {
	case "mock":
		base = NewMockEmbedder(dimensions)
	case "openai", "":
		base = NewOpenAIEmbedder(cfg.APIKey(), cfg.BaseURL, cfg.Model, dimensions, cfg.Timeout)
	case "onnx":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = onnx
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, openai, onnx)", cfg.Provider)
	}

	e := base
	if cfg.Provider != "mock" {
		if cfg.Breaker.Enabled {
			e = NewBreakerEmbedder(e, BreakerSettings{
				MaxRequests:  cfg.Breaker.MaxRequests,
				Interval:     cfg.Breaker.Interval,
				Timeout:      cfg.Breaker.Timeout,
				MinRequests:  cfg.Breaker.MinRequests,
				FailureRatio: cfg.Breaker.FailureRatio,
			}, logger)
		}
		if cfg.MaxRetries > 0 {
			e = NewRetryEmbedder(e, RetryConfig{
				MaxRetries:        cfg.MaxRetries,
				InitialDelay:      cfg.InitialBackoff,
				MaxDelay:          cfg.MaxBackoff,
				BackoffMultiplier: 2.0,
			}, logger)
		}
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	logger.Info("Embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", e.Model()),
		zap.Int("dimensions", e.Dimensions()))
	return e, nil
}
