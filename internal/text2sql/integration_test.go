//go:build integration

package text2sql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/catalog/catalogtest"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/internal/text2sql"
)

func startPostgres(t *testing.T) *catalog.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("catalog_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := catalog.NewStore(db, catalog.DialectPostgres)
	require.NoError(t, store.Bootstrap(ctx, catalog.Default()))
	require.NoError(t, catalogtest.Seed(ctx, db))

	return store
}

func TestPostgres_ReadOnlyExecution(t *testing.T) {
	store := startPostgres(t)
	exec := text2sql.NewExecutor(store, catalog.Default(), catalog.Limits{MaxRows: 10, StatementTimeout: 2 * time.Second})
	ctx := context.Background()

	rs, err := exec.Execute(ctx, &text2sql.Candidate{
		SQL: `SELECT p.product_id, p.product_name FROM products p
			JOIN monitor_specs m ON m.product_id = p.product_id
			WHERE p.price < 300 AND m.response_time_rating > 8 AND p.product_name ILIKE '%27%'
			ORDER BY p.product_id`,
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.EqualValues(t, catalogtest.DellS2721DGF, rs.Rows[0][0])

	// the transaction itself refuses writes even if a write slipped past validation
	_, err = store.Query(ctx, "DELETE FROM reviews", catalog.Limits{MaxRows: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only transaction")

	_, err = store.Query(ctx, "SELECT pg_sleep(5)", catalog.Limits{MaxRows: 1, StatementTimeout: 100 * time.Millisecond})
	require.Error(t, err)

	_, err = exec.Execute(ctx, &text2sql.Candidate{SQL: "SELECT product_id FROM products WHERE prise > 1"})
	assert.ErrorIs(t, err, models.ErrUnsafeQueryRejected)
}
