package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeReal    ColumnType = "REAL"
	TypeText    ColumnType = "TEXT"
	TypeBoolean ColumnType = "BOOLEAN"
	TypeDate    ColumnType = "DATE"
)

type Column struct {
	Name        string
	Type        ColumnType
	Nullable    bool
	Min         *float64
	Max         *float64
	Enum        []string
	Description string
}

func (c Column) Ranged() bool {
	return c.Min != nil || c.Max != nil
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	Unique    bool
}

type Table struct {
	Name        string
	Description string
	PrimaryKey  string
	Columns     []Column
	ForeignKeys []ForeignKey
}

func (t Table) Column(name string) (Column, bool) {
	name = strings.ToLower(name)
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Registry is the static, read-only description of the relational catalog.
type Registry struct {
	tables   []Table
	byName   map[string]int
	byColumn map[string][]string
}

func NewRegistry(tables []Table) *Registry {
	r := &Registry{
		tables:   tables,
		byName:   make(map[string]int, len(tables)),
		byColumn: make(map[string][]string),
	}
	for i, t := range tables {
		r.byName[strings.ToLower(t.Name)] = i
		for _, c := range t.Columns {
			key := strings.ToLower(c.Name)
			r.byColumn[key] = append(r.byColumn[key], t.Name)
		}
	}
	return r
}

func (r *Registry) Table(name string) (Table, bool) {
	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return r.tables[i], true
}

func (r *Registry) HasTable(name string) bool {
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

func (r *Registry) HasColumn(table, column string) bool {
	t, ok := r.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

// TablesWithColumn lists the tables declaring column, in registry order.
func (r *Registry) TablesWithColumn(column string) []string {
	return r.byColumn[strings.ToLower(column)]
}

func (r *Registry) TableNames() []string {
	names := make([]string, len(r.tables))
	for i, t := range r.tables {
		names[i] = t.Name
	}
	return names
}

func (r *Registry) ColumnNames(table string) []string {
	t, ok := r.Table(table)
	if !ok {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (r *Registry) Tables() []Table {
	out := make([]Table, len(r.tables))
	copy(out, r.tables)
	return out
}

// Describe renders the schema for query-synthesis prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for i, t := range r.tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "TABLE %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " -- %s", t.Description)
		}
		b.WriteString("\n")
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if c.Name == t.PrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
			if c.Ranged() {
				fmt.Fprintf(&b, " [%s..%s]", bound(c.Min), bound(c.Max))
			}
			if len(c.Enum) > 0 {
				fmt.Fprintf(&b, " IN (%s)", quoteAll(c.Enum))
			}
			if c.Description != "" {
				fmt.Fprintf(&b, " -- %s", c.Description)
			}
			b.WriteString("\n")
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  FOREIGN KEY (%s) REFERENCES %s(%s)", fk.Column, fk.RefTable, fk.RefColumn)
			if fk.Unique {
				b.WriteString(" ONE-TO-ONE")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Summary is a one-line-per-table listing used as classification context.
func (r *Registry) Summary() string {
	lines := make([]string, len(r.tables))
	for i, t := range r.tables {
		lines[i] = t.Name + ": " + strings.Join(r.ColumnNames(t.Name), ", ")
	}
	return strings.Join(lines, "\n")
}

// CheckValue reports whether value satisfies the documented range of every
// catalog column named column. Unknown columns, non-numeric values and NULLs pass.
func (r *Registry) CheckValue(column string, value any) bool {
	v, ok := toFloat(value)
	if !ok {
		return true
	}
	for _, tn := range r.TablesWithColumn(column) {
		t, _ := r.Table(tn)
		c, _ := t.Column(column)
		if c.Min != nil && v < *c.Min {
			return false
		}
		if c.Max != nil && v > *c.Max {
			return false
		}
	}
	return true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	}
	return 0, false
}

func bound(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, ", ")
}
