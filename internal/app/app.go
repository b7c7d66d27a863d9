// Package app builds the answer engine and its dependencies from config.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/cache/redis"
	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/fusion"
	"github.com/prodlens/backend/internal/intent"
	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/query"
	"github.com/prodlens/backend/internal/retrieval"
	"github.com/prodlens/backend/internal/text2sql"
	"github.com/prodlens/backend/internal/vector/milvus"
	"github.com/prodlens/backend/pkg/config"
	"github.com/prodlens/backend/pkg/logger"
)

type App struct {
	Engine   *query.Engine
	Catalog  *catalog.Store
	Cache    *redis.Client
	Embedder llm.Embedder

	closers []func() error
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	store, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	a.Catalog = store
	a.closers = append(a.closers, store.Close)

	registry := catalog.Default()
	if cfg.Catalog.Bootstrap {
		if err := store.Bootstrap(ctx, registry); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to bootstrap catalog: %w", err)
		}
	}

	vectors, err := milvus.NewClient(ctx, cfg.Milvus)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	a.closers = append(a.closers, vectors.Close)

	if err := vectors.EnsureCollection(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM)

	var embedder llm.Embedder = llmClient
	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
			embedder = retrieval.NewCachedEmbedder(llmClient, cache, cfg.Redis.EmbeddingTTL)
		}
	}
	a.Embedder = embedder

	limits := catalog.Limits{
		MaxRows:          cfg.Catalog.MaxRows,
		StatementTimeout: cfg.Catalog.StatementTimeout,
	}

	a.Engine = query.NewEngine(query.Deps{
		Classifier:  intent.NewClassifier(llmClient, registry, cfg.Engine.MinConfidence),
		Synthesizer: text2sql.NewSynthesizer(llmClient, registry, store.Dialect(), cfg.Catalog.MaxRows),
		Executor:    text2sql.NewExecutor(store, registry, limits),
		Retriever:   retrieval.NewRetriever(embedder, vectors, store, cfg.Engine.TopK, cfg.Engine.MinSimilarity),
		Fuser:       fusion.NewFuser(llmClient, cfg.Engine.ContextTokenBudget),
	}, cfg.Engine)

	return a, nil
}

// Close releases dependencies in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
