package models

import (
	"fmt"
	"strings"
)

type Intent string

const (
	IntentStructured Intent = "structured"
	IntentSemantic   Intent = "semantic"
	IntentHybrid     Intent = "hybrid"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentStructured, IntentSemantic, IntentHybrid:
		return true
	}
	return false
}

func ParseIntent(s string) (Intent, error) {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return i, nil
}

type Category string

const (
	CategoryMonitor  Category = "Monitor"
	CategoryMouse    Category = "Mouse"
	CategoryKeyboard Category = "Keyboard"
)

// SpecTable is the category-specific table joined to products on product_id.
func (c Category) SpecTable() string {
	switch c {
	case CategoryMonitor:
		return "monitor_specs"
	case CategoryMouse:
		return "mouse_specs"
	case CategoryKeyboard:
		return "keyboard_specs"
	}
	return ""
}

// Passage is a retrieved chunk of unstructured text with provenance.
type Passage struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	SourceType  string   `json:"source_type"`
	SourceID    string   `json:"source_id"`
	ProductID   int64    `json:"product_id"`
	ProductName string   `json:"product_name,omitempty"`
	Category    Category `json:"category,omitempty"`
	Similarity  float32  `json:"similarity"`
	Distance    float32  `json:"distance"`
}

// DocumentKey identifies the originating document; passages sharing it are duplicates.
func (p Passage) DocumentKey() string {
	return p.SourceType + ":" + p.SourceID
}

type ResultSet struct {
	Columns     []string `json:"columns"`
	ColumnTypes []string `json:"column_types"`
	Rows        [][]any  `json:"rows"`
	Truncated   bool     `json:"truncated"`
	Anomalies   int      `json:"anomalies,omitempty"`
}

func (r *ResultSet) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// ColumnIndex returns the position of name, or -1.
func (r *ResultSet) ColumnIndex(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

type CitationKind string

const (
	CitationRow     CitationKind = "row"
	CitationPassage CitationKind = "passage"
)

type Citation struct {
	Label      string       `json:"label"`
	Kind       CitationKind `json:"kind"`
	Group      Intent       `json:"group"`
	ProductID  int64        `json:"product_id,omitempty"`
	Table      string       `json:"table,omitempty"`
	RowIndex   int          `json:"row_index,omitempty"`
	SourceType string       `json:"source_type,omitempty"`
	SourceID   string       `json:"source_id,omitempty"`
	Snippet    string       `json:"snippet"`
	Score      float32      `json:"score,omitempty"`
}

// Key identifies the underlying row or passage independent of the label.
func (c Citation) Key() string {
	if c.Kind == CitationPassage {
		return "passage:" + c.SourceType + ":" + c.SourceID
	}
	return fmt.Sprintf("row:%s:%d:%s", c.Table, c.ProductID, c.Snippet)
}

type Degraded struct {
	Structured     bool `json:"structured"`
	Semantic       bool `json:"semantic"`
	Classification bool `json:"classification"`
	Synthesis      bool `json:"synthesis"`
}

func (d Degraded) Any() bool {
	return d.Structured || d.Semantic || d.Classification || d.Synthesis
}

type AnswerResult struct {
	RequestID    string     `json:"request_id"`
	Query        string     `json:"query"`
	Intent       Intent     `json:"intent,omitempty"`
	Route        Intent     `json:"route,omitempty"`
	Text         string     `json:"text"`
	Citations    []Citation `json:"citations"`
	Degraded     Degraded   `json:"degraded"`
	States       []string   `json:"states"`
	SQL          string     `json:"sql,omitempty"`
	Insufficient bool       `json:"insufficient"`
	LatencyMS    int64      `json:"latency_ms"`
	Err          string     `json:"error,omitempty"`
}
