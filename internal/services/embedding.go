package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/biboandbobo2/psych-dev-backend/internal/clients/gemini"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
)

// EmbeddingProvider is constructor-injected so tests can substitute a fake
// without process-wide state.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingConfig struct {
	BatchSize    int
	Parallelism  int
	MaxTextChars int
	Dims         int
	MaxAttempts  int
	BaseDelay    time.Duration
}

func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BatchSize:    32,
		Parallelism:  5,
		MaxTextChars: 8000,
		Dims:         gemini.EmbeddingDims,
		MaxAttempts:  3,
		BaseDelay:    time.Second,
	}
}

type EmbeddingService struct {
	provider EmbeddingProvider
	cfg      EmbeddingConfig
	policy   RetryPolicy
	log      *logger.Logger
}

func NewEmbeddingService(provider EmbeddingProvider, cfg EmbeddingConfig, baseLog *logger.Logger) *EmbeddingService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 5
	}
	return &EmbeddingService{
		provider: provider,
		cfg:      cfg,
		policy:   embeddingRetryPolicy(cfg),
		log:      baseLog.With("service", "EmbeddingService"),
	}
}

// embeddingRetryPolicy: exponential backoff when the provider signals rate
// limiting, fixed short delay otherwise.
func embeddingRetryPolicy(cfg EmbeddingConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		IsRetryable: func(error) bool { return true },
		DelayForAttempt: func(attempt int, err error) time.Duration {
			if IsRateLimit(err) {
				return cfg.BaseDelay << attempt
			}
			return cfg.BaseDelay
		},
	}
}

// IsRateLimit reports whether an embedding failure looks like provider
// throttling (429, RESOURCE_EXHAUSTED, or a rate-limit message).
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *gemini.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "rate limit")
}

// Embed converts a single text (query-time path) and validates the returned
// dimensionality.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.provider.Embed(ctx, truncateText(text, s.cfg.MaxTextChars))
	if err != nil {
		return nil, err
	}
	if len(vec) != s.cfg.Dims {
		return nil, fmt.Errorf("embedding dimensionality mismatch: got %d want %d", len(vec), s.cfg.Dims)
	}
	return vec, nil
}

// EmbedBatch embeds texts in fixed-size batches with bounded sub-batch
// parallelism, preserving input order. onProgress is invoked after every
// completed batch with (done, total).
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string, onProgress func(done, total int)) ([][]float32, error) {
	total := len(texts)
	out := make([][]float32, total)

	for i := 0; i < total; i += s.cfg.BatchSize {
		endIdx := i + s.cfg.BatchSize
		if endIdx > total {
			endIdx = total
		}
		batch := texts[i:endIdx]
		results := out[i:endIdx]

		if err := Retry(ctx, s.policy, func() error {
			return s.processBatch(ctx, batch, results)
		}); err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, endIdx, err)
		}

		if onProgress != nil {
			onProgress(endIdx, total)
		}
	}
	return out, nil
}

// processBatch fans a batch out over Parallelism concurrent provider calls.
// Each goroutine writes to its own index, so join order never reorders
// results.
func (s *EmbeddingService) processBatch(ctx context.Context, texts []string, out [][]float32) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := s.provider.Embed(gctx, truncateText(text, s.cfg.MaxTextChars))
			if err != nil {
				return err
			}
			if len(vec) != s.cfg.Dims {
				return fmt.Errorf("embedding dimensionality mismatch: got %d want %d", len(vec), s.cfg.Dims)
			}
			out[i] = vec
			return nil
		})
	}
	return g.Wait()
}

// truncateText caps text at the embedding model's input budget.
func truncateText(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}
