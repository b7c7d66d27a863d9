package catalog

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case DialectPostgres, DialectSQLite:
		return Dialect(driver), nil
	}
	return "", fmt.Errorf("unsupported catalog driver %q", driver)
}

// DDL renders CREATE TABLE statements for every registry table, parents first.
func (r *Registry) DDL(dialect Dialect) []string {
	stmts := make([]string, 0, len(r.tables))
	for _, t := range r.tables {
		stmts = append(stmts, createTable(t, dialect))
	}
	return stmts
}

func createTable(t Table, dialect Dialect) string {
	var lines []string
	fkByColumn := make(map[string]ForeignKey, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		fkByColumn[fk.Column] = fk
	}

	for _, c := range t.Columns {
		lines = append(lines, "    "+columnDef(t, c, fkByColumn, dialect))
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE",
			fk.Column, fk.RefTable, fk.RefColumn))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.Name, strings.Join(lines, ",\n"))
}

func columnDef(t Table, c Column, fks map[string]ForeignKey, dialect Dialect) string {
	fk, isFK := fks[c.Name]
	if c.Name == t.PrimaryKey && !isFK {
		if dialect == DialectPostgres {
			return c.Name + " SERIAL PRIMARY KEY"
		}
		return c.Name + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	parts := []string{c.Name, sqlType(c.Type, dialect)}
	if c.Name == t.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if isFK && fk.Unique && c.Name != t.PrimaryKey {
		parts = append(parts, "UNIQUE")
	}
	if check := checkClause(c); check != "" {
		parts = append(parts, check)
	}
	return strings.Join(parts, " ")
}

func checkClause(c Column) string {
	switch {
	case len(c.Enum) > 0:
		return fmt.Sprintf("CHECK (%s IN (%s))", c.Name, quoteAll(c.Enum))
	case c.Min != nil && c.Max != nil:
		return fmt.Sprintf("CHECK (%s BETWEEN %s AND %s)", c.Name, bound(c.Min), bound(c.Max))
	case c.Min != nil:
		return fmt.Sprintf("CHECK (%s >= %s)", c.Name, bound(c.Min))
	case c.Max != nil:
		return fmt.Sprintf("CHECK (%s <= %s)", c.Name, bound(c.Max))
	}
	return ""
}

func sqlType(t ColumnType, dialect Dialect) string {
	if dialect == DialectPostgres && t == TypeReal {
		return "NUMERIC(10,2)"
	}
	return string(t)
}
