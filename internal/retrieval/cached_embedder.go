package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/metrics"
	"github.com/prodlens/backend/pkg/logger"
	"github.com/prodlens/backend/pkg/utils"
)

// EmbeddingCache stores query vectors. A miss returns (nil, nil).
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder memoizes query embeddings and collapses concurrent
// requests for the same normalized query into one upstream call.
type CachedEmbedder struct {
	next  llm.Embedder
	cache EmbeddingCache
	ttl   time.Duration
	group singleflight.Group
}

func NewCachedEmbedder(next llm.Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(utils.NormalizeQuery(text))

	if c.cache != nil {
		vec, err := c.cache.GetEmbedding(ctx, key)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if vec != nil {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return vec, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// detached so one caller's cancellation does not fail the others
		vec, err := c.next.Embed(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.SetEmbedding(context.WithoutCancel(ctx), key, vec, c.ttl); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}
