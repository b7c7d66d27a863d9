package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Tables(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{
		"brands", "products", "monitor_specs", "mouse_specs", "keyboard_specs", "reviews", "professional_ratings",
	}, r.TableNames())

	assert.True(t, r.HasTable("Products"))
	assert.False(t, r.HasTable("users"))
	assert.True(t, r.HasColumn("monitor_specs", "response_time_rating"))
	assert.True(t, r.HasColumn("PRODUCTS", "PRICE"))
	assert.False(t, r.HasColumn("products", "password"))
	assert.False(t, r.HasColumn("nope", "price"))
}

func TestRegistry_TablesWithColumn(t *testing.T) {
	r := Default()

	assert.ElementsMatch(t, []string{
		"products", "monitor_specs", "mouse_specs", "keyboard_specs", "reviews", "professional_ratings",
	}, r.TablesWithColumn("product_id"))
	assert.Equal(t, []string{"products"}, r.TablesWithColumn("ranking_gaming"))
	assert.Empty(t, r.TablesWithColumn("ssn"))
}

func TestRegistry_Describe(t *testing.T) {
	desc := Default().Describe()

	assert.Contains(t, desc, "TABLE products")
	assert.Contains(t, desc, "customer_rating REAL [0..5]")
	assert.Contains(t, desc, "rating INTEGER [1..5]")
	assert.Contains(t, desc, "category_name TEXT IN ('Monitor', 'Mouse', 'Keyboard')")
	assert.Contains(t, desc, "FOREIGN KEY (product_id) REFERENCES products(product_id) ONE-TO-ONE")
}

func TestRegistry_Summary(t *testing.T) {
	lines := strings.Split(Default().Summary(), "\n")

	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "brands: brand_id, brand_name"))
}

func TestRegistry_CheckValue(t *testing.T) {
	r := Default()

	tests := []struct {
		name   string
		column string
		value  any
		want   bool
	}{
		{name: "rating in range", column: "customer_rating", value: 4.5, want: true},
		{name: "rating above range", column: "customer_rating", value: 5.5, want: false},
		{name: "review rating below", column: "rating", value: int64(0), want: false},
		{name: "ranking as string", column: "ranking_gaming", value: "8.6", want: true},
		{name: "ranking as bytes out of range", column: "ranking_gaming", value: []byte("11"), want: false},
		{name: "unranged column", column: "price", value: 9999.0, want: true},
		{name: "null", column: "customer_rating", value: nil, want: true},
		{name: "unknown column", column: "avg_price", value: -1.0, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CheckValue(tt.column, tt.value))
		})
	}
}

func TestRegistry_DDL(t *testing.T) {
	r := Default()

	sqlite := r.DDL(DialectSQLite)
	require.Len(t, sqlite, 7)
	assert.Contains(t, sqlite[0], "brand_id INTEGER PRIMARY KEY AUTOINCREMENT")
	assert.Contains(t, sqlite[1], "CHECK (customer_rating BETWEEN 0 AND 5)")
	assert.Contains(t, sqlite[1], "CHECK (category_name IN ('Monitor', 'Mouse', 'Keyboard'))")
	assert.Contains(t, sqlite[2], "product_id INTEGER PRIMARY KEY")
	assert.NotContains(t, sqlite[2], "AUTOINCREMENT")

	pg := r.DDL(DialectPostgres)
	assert.Contains(t, pg[1], "product_id SERIAL PRIMARY KEY")
	assert.Contains(t, pg[1], "price NUMERIC(10,2)")
	assert.Contains(t, pg[5], "CHECK (rating BETWEEN 1 AND 5)")
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}
