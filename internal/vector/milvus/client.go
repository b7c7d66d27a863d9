package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/internal/metrics"
	"github.com/prodlens/backend/internal/retrieval"
	"github.com/prodlens/backend/pkg/circuitbreaker"
	"github.com/prodlens/backend/pkg/config"
	"github.com/prodlens/backend/pkg/logger"
)

const (
	fieldID         = "passage_id"
	fieldEmbedding  = "embedding"
	fieldText       = "text"
	fieldSourceType = "source_type"
	fieldSourceID   = "source_id"
	fieldProductID  = "product_id"
	fieldCategory   = "category"
	fieldTimestamp  = "timestamp"

	nlist = 1024
)

var outputFields = []string{fieldID, fieldText, fieldSourceType, fieldSourceID, fieldProductID, fieldCategory}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	nprobe         int
	cb             *circuitbreaker.CircuitBreaker
}

func NewClient(ctx context.Context, cfg config.MilvusConfig) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	nprobe := cfg.NProbe
	if nprobe <= 0 {
		nprobe = 16
	}

	logger.Info("Milvus client initialized",
		zap.String("address", cfg.Address),
		zap.String("collection", cfg.CollectionName),
	)

	return &Client{
		client:         c,
		collectionName: cfg.CollectionName,
		vectorDim:      cfg.VectorDim,
		nprobe:         nprobe,
		cb: circuitbreaker.NewCircuitBreaker("milvus", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          15 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OnStateChange:    metrics.ObserveBreaker,
			Logger:           logger.GetLogger(),
		}),
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates the passage collection and its index when missing
// and loads it for search.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		if err := m.createCollection(ctx); err != nil {
			return err
		}
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection ready", zap.String("collection", m.collectionName), zap.Bool("created", !has))
	return nil
}

func (m *Client) createCollection(ctx context.Context) error {
	varchar := func(name string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}

	id := varchar(fieldID, 64)
	id.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Review and professional rating passages",
		Fields: []*entity.Field{
			id,
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(m.vectorDim)},
			},
			varchar(fieldText, 4096),
			varchar(fieldSourceType, 32),
			varchar(fieldSourceID, 64),
			{Name: fieldProductID, DataType: entity.FieldTypeInt64},
			varchar(fieldCategory, 16),
			{Name: fieldTimestamp, DataType: entity.FieldTypeInt64},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, nlist)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	logger.Info("Collection created", zap.String("collection", m.collectionName))
	return nil
}

// Search implements retrieval.VectorStore with cosine similarity.
func (m *Client) Search(ctx context.Context, vector []float32, limit int, filter retrieval.Filter) ([]models.Passage, error) {
	expr := buildExpr(filter)

	sp, err := entity.NewIndexIvfFlatSearchParam(m.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var results []client.SearchResult
	err = m.cb.Execute(ctx, func() error {
		var err error
		results, err = m.client.Search(
			ctx,
			m.collectionName,
			[]string{},
			expr,
			outputFields,
			[]entity.Vector{entity.FloatVector(vector)},
			fieldEmbedding,
			entity.COSINE,
			limit,
			sp,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var passages []models.Passage
	for _, sr := range results {
		if sr.Err != nil {
			return nil, fmt.Errorf("search result error: %w", sr.Err)
		}
		for i := 0; i < sr.ResultCount; i++ {
			passages = append(passages, models.Passage{
				ID:         stringAt(sr.Fields, fieldID, i),
				Text:       stringAt(sr.Fields, fieldText, i),
				SourceType: stringAt(sr.Fields, fieldSourceType, i),
				SourceID:   stringAt(sr.Fields, fieldSourceID, i),
				ProductID:  int64At(sr.Fields, fieldProductID, i),
				Category:   models.Category(stringAt(sr.Fields, fieldCategory, i)),
				Similarity: similarity(sr.Scores[i]),
				Distance:   1 - sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(passages)),
		zap.String("expr", expr),
	)

	return passages, nil
}

// buildExpr renders a boolean filter expression over the scalar fields.
func buildExpr(filter retrieval.Filter) string {
	var parts []string
	if filter.Category != "" {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, fieldCategory, escape(string(filter.Category))))
	}
	if filter.SourceType != "" {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, fieldSourceType, escape(filter.SourceType)))
	}
	return strings.Join(parts, " && ")
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// similarity maps a cosine score onto [0,1].
func similarity(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func stringAt(fields client.ResultSet, name string, i int) string {
	col := fields.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64At(fields client.ResultSet, name string, i int) int64 {
	col := fields.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
