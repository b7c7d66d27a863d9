package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/catalog/catalogtest"
	"github.com/prodlens/backend/pkg/config"
	"github.com/prodlens/backend/pkg/logger"
)

func TestStore_Query(t *testing.T) {
	f := catalogtest.New(t)

	rs, err := f.Store.Query(context.Background(), `
		SELECT p.product_id, p.product_name, p.price
		FROM products p JOIN monitor_specs m ON m.product_id = p.product_id
		WHERE p.price < 300 AND m.response_time_rating > 8
		ORDER BY p.product_id`, catalog.Limits{MaxRows: 10, StatementTimeout: time.Second})
	require.NoError(t, err)

	assert.Equal(t, []string{"product_id", "product_name", "price"}, rs.Columns)
	require.Len(t, rs.Rows, 2)
	assert.EqualValues(t, catalogtest.DellS2721DGF, rs.Rows[0][0])
	assert.Equal(t, "LG 27GP850-B", rs.Rows[1][1])
	assert.False(t, rs.Truncated)
}

func TestStore_QueryTruncates(t *testing.T) {
	f := catalogtest.New(t)

	rs, err := f.Store.Query(context.Background(), "SELECT product_id FROM products ORDER BY product_id",
		catalog.Limits{MaxRows: 2})
	require.NoError(t, err)

	assert.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
}

func TestStore_QueryIsReadOnly(t *testing.T) {
	f := catalogtest.New(t)
	ctx := context.Background()

	_, err := f.Store.Query(ctx, "DELETE FROM reviews", catalog.Limits{MaxRows: 10})
	require.Error(t, err)
	assert.Equal(t, 2, f.Count(t, "reviews"))

	// the pooled connection must be writable again for other users
	_, err = f.DB.ExecContext(ctx, "UPDATE brands SET website_url = 'https://dell.com' WHERE brand_id = 1")
	require.NoError(t, err)
}

func TestStore_QuerySyntaxError(t *testing.T) {
	f := catalogtest.New(t)

	_, err := f.Store.Query(context.Background(), "SELECT nonexistent FROM products", catalog.Limits{MaxRows: 10})
	assert.Error(t, err)
}

func TestStore_QueryHonoursCancellation(t *testing.T) {
	f := catalogtest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Store.Query(ctx, "SELECT 1", catalog.Limits{MaxRows: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_KnownProducts(t *testing.T) {
	f := catalogtest.New(t)

	names, err := f.Store.KnownProducts(context.Background(), []int64{catalogtest.KeychronQ1, 999})
	require.NoError(t, err)

	assert.Equal(t, map[int64]string{catalogtest.KeychronQ1: "Keychron Q1"}, names)
}

func TestStore_BootstrapIdempotent(t *testing.T) {
	f := catalogtest.New(t)

	require.NoError(t, f.Store.Bootstrap(context.Background(), f.Registry))
	assert.Equal(t, 6, f.Count(t, "products"))
}

func TestStore_BootstrapLogsOnce(t *testing.T) {
	f := catalogtest.New(t)

	core, logs := observer.New(zapcore.InfoLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	require.NoError(t, f.Store.Bootstrap(context.Background(), f.Registry))

	entries := logs.FilterMessage("Catalog schema bootstrapped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(catalog.DialectSQLite), entries[0].ContextMap()["driver"])
}

func TestStore_CheckConstraints(t *testing.T) {
	f := catalogtest.New(t)

	_, err := f.DB.Exec(`INSERT INTO reviews (review_id, product_id, rating) VALUES (999, 1, 6)`)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, err := catalog.Open(config.CatalogConfig{
		Driver:       "sqlite3",
		DSN:          t.TempDir() + "/open.db",
		MaxOpenConns: 2,
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, catalog.DialectSQLite, store.Dialect())

	_, err = catalog.Open(config.CatalogConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
