package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

const (
	MinTopK     = 1
	MaxTopK     = 50
	overFetch   = 3
	maxFetchAll = 150
)

// Source types stored alongside each embedded passage.
const (
	SourceReview             = "review"
	SourceProfessionalRating = "professional_rating"
	SourceSpecGuide          = "spec_guide"
)

type Filter struct {
	Category   models.Category
	SourceType string
}

type Request struct {
	Query  string
	TopK   int
	Filter Filter
}

// VectorStore returns the nearest passages to vector, best first, with
// Similarity in [0,1] and Distance set.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]models.Passage, error)
}

type ProductResolver interface {
	KnownProducts(ctx context.Context, ids []int64) (map[int64]string, error)
}

type Retriever struct {
	embedder      llm.Embedder
	store         VectorStore
	resolver      ProductResolver
	defaultTopK   int
	minSimilarity float32
}

// NewRetriever builds a Retriever. resolver may be nil.
func NewRetriever(embedder llm.Embedder, store VectorStore, resolver ProductResolver, defaultTopK int, minSimilarity float32) *Retriever {
	return &Retriever{
		embedder:      embedder,
		store:         store,
		resolver:      resolver,
		defaultTopK:   ClampTopK(defaultTopK),
		minSimilarity: minSimilarity,
	}
}

func ClampTopK(k int) int {
	if k < MinTopK {
		return MinTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]models.Passage, error) {
	topK := r.defaultTopK
	if req.TopK != 0 {
		topK = ClampTopK(req.TopK)
	}

	vector, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, unavailable("embed query", err)
	}

	fetch := topK * overFetch
	if fetch > maxFetchAll {
		fetch = maxFetchAll
	}

	hits, err := r.store.Search(ctx, vector, fetch, req.Filter)
	if err != nil {
		return nil, unavailable("vector search", err)
	}

	passages := rank(hits, r.minSimilarity)
	passages = r.resolve(ctx, passages)
	if len(passages) > topK {
		passages = passages[:topK]
	}

	logger.Debug("Passages retrieved",
		zap.Int("hits", len(hits)),
		zap.Int("returned", len(passages)),
		zap.Int("top_k", topK),
		zap.String("category", string(req.Filter.Category)),
	)

	return passages, nil
}

func unavailable(step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w: %w", models.ErrRetrievalUnavailable, step, models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrRetrievalUnavailable, step, err)
}

// rank drops weak hits, keeps the best passage per source document and
// orders by similarity, then id.
func rank(hits []models.Passage, minSimilarity float32) []models.Passage {
	best := make(map[string]models.Passage, len(hits))
	for _, h := range hits {
		if h.Similarity < minSimilarity {
			continue
		}
		key := h.DocumentKey()
		cur, ok := best[key]
		if !ok || better(h, cur) {
			best[key] = h
		}
	}

	out := make([]models.Passage, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

func better(a, b models.Passage) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.ID < b.ID
}

// resolve attaches product names and drops passages whose product is not in
// the catalog. A failing resolver leaves passages untouched.
func (r *Retriever) resolve(ctx context.Context, passages []models.Passage) []models.Passage {
	if r.resolver == nil || len(passages) == 0 {
		return passages
	}

	seen := map[int64]bool{}
	var ids []int64
	for _, p := range passages {
		if p.ProductID != 0 && !seen[p.ProductID] {
			seen[p.ProductID] = true
			ids = append(ids, p.ProductID)
		}
	}
	if len(ids) == 0 {
		return passages
	}

	names, err := r.resolver.KnownProducts(ctx, ids)
	if err != nil {
		logger.Warn("Product resolution failed, keeping unresolved passages", zap.Error(err))
		return passages
	}

	out := passages[:0]
	for _, p := range passages {
		if p.ProductID == 0 {
			out = append(out, p)
			continue
		}
		name, ok := names[p.ProductID]
		if !ok {
			logger.Debug("Dropping passage for unknown product",
				zap.String("passage_id", p.ID),
				zap.Int64("product_id", p.ProductID),
			)
			continue
		}
		p.ProductName = name
		out = append(out, p)
	}
	return out
}
