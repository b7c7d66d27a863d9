// Package catalogtest provides a small seeded product catalog for tests.
package catalogtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prodlens/backend/internal/catalog"
)

const (
	DellS2721DGF   int64 = 1
	LG27GP850      int64 = 2
	DellU2723QE    int64 = 3
	LogitechGProX  int64 = 4
	KeychronQ1     int64 = 5
	RazerHuntsman  int64 = 6
	ReviewQ1Wrist  int64 = 101
	ReviewQ1Heavy  int64 = 102
	RatingQ1       int64 = 201
	RatingDellStnd int64 = 202
	RatingLGStand  int64 = 203
)

type Fixture struct {
	DB       *sql.DB
	Store    *catalog.Store
	Registry *catalog.Registry
	Path     string
}

// New creates a file-backed SQLite catalog under t.TempDir, bootstraps the
// default schema and seeds it.
func New(t testing.TB) *Fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry := catalog.Default()
	store := catalog.NewStore(db, catalog.DialectSQLite)

	ctx := context.Background()
	require.NoError(t, store.Bootstrap(ctx, registry))
	require.NoError(t, Seed(ctx, db))

	return &Fixture{DB: db, Store: store, Registry: registry, Path: path}
}

// Seed inserts the fixture rows using dialect-neutral literals.
func Seed(ctx context.Context, db *sql.DB) error {
	for i, stmt := range seed {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed statement %d: %w", i, err)
		}
	}
	return nil
}

func (f *Fixture) Count(t testing.TB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

var seed = []string{
	`INSERT INTO brands (brand_id, brand_name, country_origin, website_url) VALUES
		(1, 'Dell', 'United States', 'https://www.dell.com'),
		(2, 'LG', 'South Korea', 'https://www.lg.com'),
		(3, 'Logitech', 'Switzerland', 'https://www.logitechg.com'),
		(4, 'Keychron', 'Hong Kong', 'https://www.keychron.com'),
		(5, 'Razer', 'United States', 'https://www.razer.com')`,

	`INSERT INTO products (product_id, product_name, brand_id, category_name, release_year, price, customer_rating,
		ranking_general, ranking_gaming, ranking_office, ranking_editing) VALUES
		(1, 'Dell S2721DGF', 1, 'Monitor', 2020, 279.99, 4.5, 8.1, 8.6, 7.9, 7.5),
		(2, 'LG 27GP850-B', 2, 'Monitor', 2021, 299.00, 4.6, 8.3, 8.8, 8.0, 7.8),
		(3, 'Dell U2723QE', 1, 'Monitor', 2022, 579.99, 4.7, 8.5, 7.0, 9.0, 8.9),
		(4, 'Logitech G PRO X SUPERLIGHT', 3, 'Mouse', 2020, 149.99, 4.7, 8.4, 9.1, 7.2, 7.0),
		(5, 'Keychron Q1', 4, 'Keyboard', 2021, 169.00, 4.4, 8.0, 7.6, 8.3, 7.9),
		(6, 'Razer Huntsman V2', 5, 'Keyboard', 2021, 199.99, 4.3, 7.9, 8.7, 7.1, 7.0)`,

	`INSERT INTO monitor_specs (product_id, size_inch, response_time_rating, hdr_picture_rating, sdr_picture_rating,
		pixel_type, native_refresh_rate_hz, max_refresh_rate_hz, native_resolution, aspect_ratio, flicker_free) VALUES
		(1, 27, 8.9, 6.1, 7.4, 'IPS', 144, 165, '2560x1440', '16:9', TRUE),
		(2, 27, 9.2, 6.4, 7.6, 'IPS', 165, 180, '2560x1440', '16:9', TRUE),
		(3, 27, 7.1, 6.9, 8.6, 'IPS', 60, 60, '3840x2160', '16:9', TRUE)`,

	`INSERT INTO mouse_specs (product_id, length_mm, width_mm, height_mm, default_weight_gm, ambidextrous,
		connectivity, switch_type) VALUES
		(4, 125.0, 63.5, 40.0, 63, FALSE, 'Wireless', 'Mechanical')`,

	`INSERT INTO keyboard_specs (product_id, size, weight_kg, keycap_material, backlighting, rgb, connectivity,
		bluetooth, numpad, average_loudness_dba, switch_type, switch_feel) VALUES
		(5, '75%', 1.66, 'PBT', TRUE, TRUE, 'Wired', FALSE, FALSE, 44.5, 'Gateron Phantom Red', 'Linear'),
		(6, 'Full-size', 1.20, 'Doubleshot PBT', TRUE, TRUE, 'Wired', FALSE, TRUE, 50.2, 'Razer Optical', 'Clicky')`,

	`INSERT INTO reviews (review_id, product_id, user_id, rating, review_title, review_text, source,
		verified_purchase, helpful_count, review_date) VALUES
		(101, 5, 'u-17', 5, 'Great typing angle', 'The Q1 sits high but with a wrist rest the typing angle is comfortable for long sessions.', 'amazon', TRUE, 12, '2023-03-14'),
		(102, 5, 'u-22', 3, 'Heavy', 'Solid aluminium case, very heavy, and the front edge digs into my wrists without a rest.', 'reddit', FALSE, 4, '2023-05-02')`,

	`INSERT INTO professional_ratings (rating_id, product_id, reviewer_website, rating_general, rating_gaming,
		rating_office, rating_editing, pros, cons, summary, review_url, review_date) VALUES
		(201, 5, 'rtings.com', 8.0, 7.6, 8.3, 7.9, 'Excellent build quality; hot-swappable switches',
			'High profile, no included wrist rest hurts ergonomics', 'A premium custom keyboard with great typing quality.',
			'https://www.rtings.com/keyboard/reviews/keychron/q1', '2022-01-20'),
		(202, 1, 'rtings.com', 8.1, 8.6, 7.9, 7.5, 'Fast response time; wide viewing angles',
			'Stand only offers tilt adjustment', 'A great 1440p gaming monitor.',
			'https://www.rtings.com/monitor/reviews/dell/s2721dgf', '2021-02-11'),
		(203, 2, 'rtings.com', 8.3, 8.8, 8.0, 7.8, 'Outstanding motion handling',
			'Stand wobbles; limited ergonomic adjustments', 'An excellent gaming monitor.',
			'https://www.rtings.com/monitor/reviews/lg/27gp850-b', '2021-09-30')`,
}
