package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/models"
)

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// The breaker opens once at least MinRequests calls were made in the
	// current interval and the failure ratio reaches FailureRatio.
	MinRequests  uint32
	FailureRatio float64
}

// BreakerEmbedder stops calling a failing provider until Timeout elapses,
// then lets MaxRequests trial calls through.
type BreakerEmbedder struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner with a gobreaker circuit breaker.
func NewBreakerEmbedder(inner Embedder, s BreakerSettings, logger *zap.Logger) *BreakerEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Name == "" {
		s.Name = "embedding:" + inner.Model()
	}
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		// Caller cancellation and bad responses are not provider outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, models.ErrDimensionMismatch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Error("Embedding circuit breaker opened",
					zap.String("breaker", name), zap.String("from", from.String()))
				return
			}
			logger.Info("Embedding circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerEmbedder{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}

// State returns the breaker state.
func (b *BreakerEmbedder) State() gobreaker.State { return b.cb.State() }

func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }
func (b *BreakerEmbedder) Model() string { return b.inner.Model() }
func (b *BreakerEmbedder) Close() error { return b.inner.Close() }
