package text2sql

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

type Store interface {
	Query(ctx context.Context, sql string, limits catalog.Limits) (*models.ResultSet, error)
}

type Executor struct {
	guard    *Guard
	store    Store
	registry *catalog.Registry
	limits   catalog.Limits
}

func NewExecutor(store Store, registry *catalog.Registry, limits catalog.Limits) *Executor {
	return &Executor{
		guard:    NewGuard(registry),
		store:    store,
		registry: registry,
		limits:   limits,
	}
}

// Execute validates the candidate and runs it read-only. A rejected
// candidate never reaches the store.
func (e *Executor) Execute(ctx context.Context, c *Candidate) (*models.ResultSet, error) {
	if c == nil {
		return nil, reject(ReasonEmpty, "no candidate")
	}

	if _, err := e.guard.Validate(c.SQL, c.Tables); err != nil {
		logger.Warn("Generated query rejected", zap.Error(err), zap.String("sql", c.SQL))
		return nil, err
	}

	rs, err := e.store.Query(ctx, c.SQL, e.limits)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: %w", models.ErrExecutionError, models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrExecutionError, err)
	}

	rs.Anomalies = e.sanityCheck(rs)
	if rs.Anomalies > 0 {
		logger.Warn("Result values outside catalog ranges", zap.Int("anomalies", rs.Anomalies))
	}

	logger.Debug("Structured query executed",
		zap.Int("rows", len(rs.Rows)),
		zap.Bool("truncated", rs.Truncated),
	)

	return rs, nil
}

// sanityCheck counts values that violate the documented CHECK ranges of the
// column they are named after.
func (e *Executor) sanityCheck(rs *models.ResultSet) int {
	anomalies := 0
	for _, row := range rs.Rows {
		for i, v := range row {
			if i < len(rs.Columns) && !e.registry.CheckValue(rs.Columns[i], v) {
				anomalies++
			}
		}
	}
	return anomalies
}
