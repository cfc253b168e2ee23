package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/models"
)

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// BackoffMultiplier scales the delay after each retry.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryEmbedder retries transient provider failures with exponential backoff.
type RetryEmbedder struct {
	inner  Embedder
	config RetryConfig
	logger *zap.Logger
}

// NewRetryEmbedder wraps inner. Zero or negative config fields fall back to defaults.
func NewRetryEmbedder(inner Embedder, config RetryConfig, logger *zap.Logger) *RetryEmbedder {
	def := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryEmbedder{inner: inner, config: config, logger: logger}
}

func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := r.do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Embed(ctx, text)
		return err
	})
	return out, err
}

func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.do(ctx, "embed_batch", func(ctx context.Context) error {
		var err error
		out, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

func (r *RetryEmbedder) Dimensions() int { return r.inner.Dimensions() }
func (r *RetryEmbedder) Model() string { return r.inner.Model() }
func (r *RetryEmbedder) Close() error { return r.inner.Close() }

func (r *RetryEmbedder) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Warn("Retrying embedding call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("failed after %d retries: %w", r.config.MaxRetries, lastErr)
}

// delay returns InitialDelay * BackoffMultiplier^(attempt-1), capped at MaxDelay.
func (r *RetryEmbedder) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	return time.Duration(d)
}

// IsRetryable reports whether err is a transient provider failure: rate
// limiting, 5xx responses, timeouts, and network errors. Caller cancellation,
// an open circuit breaker, and dimension mismatches are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, models.ErrDimensionMismatch):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection reset", "connection refused", "timeout", "rate limit", "too many requests", "service unavailable"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
