package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/config"
	"github.com/prodlens/backend/pkg/logger"
)

type Limits struct {
	MaxRows          int
	StatementTimeout time.Duration
}

// Store runs read-only queries against the relational catalog.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func Open(cfg config.CatalogConfig) (*Store, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("Catalog store initialized",
		zap.String("driver", string(dialect)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return NewStore(db, dialect), nil
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs a single SELECT on a dedicated connection inside a read-only
// transaction that is always rolled back.
func (s *Store) Query(ctx context.Context, query string, limits Limits) (*models.ResultSet, error) {
	if limits.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.StatementTimeout)
		defer cancel()
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if s.dialect == DialectSQLite {
		// query_only is connection state; clear it once the transaction is gone.
		defer s.releaseQueryOnly(conn)
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.guardTx(ctx, tx, limits); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows, limits.MaxRows)
}

func (s *Store) guardTx(ctx context.Context, tx *sql.Tx, limits Limits) error {
	switch s.dialect {
	case DialectSQLite:
		if _, err := tx.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return fmt.Errorf("failed to enable query_only: %w", err)
		}
	case DialectPostgres:
		if limits.StatementTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", limits.StatementTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to set statement timeout: %w", err)
			}
		}
	}
	return nil
}

func (s *Store) releaseQueryOnly(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = OFF"); err != nil {
		logger.Warn("Discarding catalog connection", zap.Error(err))
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
}

func scanRows(rows *sql.Rows, maxRows int) (*models.ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rs := &models.ResultSet{Columns: columns, Rows: [][]any{}}
	if types, err := rows.ColumnTypes(); err == nil {
		rs.ColumnTypes = make([]string, len(types))
		for i, ct := range types {
			rs.ColumnTypes[i] = ct.DatabaseTypeName()
		}
	}

	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// KnownProducts resolves product ids to names. Ids absent from the catalog
// are absent from the result.
func (s *Store) KnownProducts(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = s.placeholder(i + 1)
		args[i] = id
	}

	query := fmt.Sprintf("SELECT product_id, product_name FROM products WHERE product_id IN (%s)",
		strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		names[id] = name
	}

	return names, rows.Err()
}

func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Bootstrap creates the catalog tables. Only used for local and test setups;
// production catalogs are owned by the ingestion pipeline.
func (s *Store) Bootstrap(ctx context.Context, registry *Registry) error {
	var errs []error
	for _, stmt := range registry.DDL(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, err)
		}
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to bootstrap catalog: %w", err)
	}

	logger.Info("Catalog schema bootstrapped", zap.String("driver", string(s.dialect)))
	return nil
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_name)",
	"CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand_id)",
	"CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews(product_id)",
	"CREATE INDEX IF NOT EXISTS idx_professional_ratings_product ON professional_ratings(product_id)",
}
