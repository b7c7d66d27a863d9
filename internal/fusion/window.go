package fusion

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/utils"
)

const (
	maxPassageRunes = 1200
	maxSnippetRunes = 200
)

type item struct {
	text     string
	tokens   int
	citation models.Citation
}

// Window is the bounded context handed to the oracle.
type Window struct {
	Rows      []string
	Passages  []string
	Citations []models.Citation
	Tokens    int
	// Dropped counts rows and passages that did not fit the budget.
	Dropped int
}

func (w Window) Empty() bool {
	return len(w.Rows) == 0 && len(w.Passages) == 0
}

// BuildWindow packs rows and passages into budget tokens. Each group gets
// half; a group that fits entirely hands its unused share to the other.
// Items are taken in rank order and the first one that does not fit ends
// its group.
func BuildWindow(in Input, budget int) Window {
	rows := rowItems(in)
	passages := passageItems(in.Passages)

	rowBudget, passageBudget := budget/2, budget-budget/2
	switch {
	case len(rows) == 0:
		rowBudget, passageBudget = 0, budget
	case len(passages) == 0:
		rowBudget, passageBudget = budget, 0
	}

	takenRows, rowTokens := take(rows, rowBudget)
	takenPassages, passageTokens := take(passages, passageBudget)

	if takenRows == len(rows) && takenPassages < len(passages) {
		takenPassages, passageTokens = take(passages, budget-rowTokens)
	} else if takenPassages == len(passages) && takenRows < len(rows) {
		takenRows, rowTokens = take(rows, budget-passageTokens)
	}

	w := Window{
		Tokens:  rowTokens + passageTokens,
		Dropped: len(rows) - takenRows + len(passages) - takenPassages,
	}
	for _, it := range rows[:takenRows] {
		w.Rows = append(w.Rows, it.text)
		w.Citations = append(w.Citations, it.citation)
	}
	for _, it := range passages[:takenPassages] {
		w.Passages = append(w.Passages, it.text)
		w.Citations = append(w.Citations, it.citation)
	}
	return w
}

func take(items []item, budget int) (int, int) {
	used := 0
	for i, it := range items {
		if used+it.tokens > budget {
			return i, used
		}
		used += it.tokens
	}
	return len(items), used
}

func rowItems(in Input) []item {
	if in.Rows.Empty() {
		return nil
	}

	productCol := in.Rows.ColumnIndex("product_id")
	if productCol < 0 && in.Table == "products" {
		productCol = in.Rows.ColumnIndex("id")
	}

	items := make([]item, 0, len(in.Rows.Rows))
	for i, row := range in.Rows.Rows {
		label := "R" + strconv.Itoa(i+1)
		body := renderRow(in.Rows.Columns, row)
		text := fmt.Sprintf("[%s] %s", label, body)

		c := models.Citation{
			Label:    label,
			Kind:     models.CitationRow,
			Group:    models.IntentStructured,
			Table:    in.Table,
			RowIndex: i,
			Snippet:  utils.Truncate(body, maxSnippetRunes),
		}
		if productCol >= 0 && productCol < len(row) {
			c.ProductID = toInt64(row[productCol])
		}

		items = append(items, item{text: text, tokens: CountTokens(text), citation: c})
	}
	return items
}

func passageItems(passages []models.Passage) []item {
	items := make([]item, 0, len(passages))
	for i, p := range passages {
		label := "P" + strconv.Itoa(i+1)
		body := utils.Truncate(StripMarkup(p.Text), maxPassageRunes)

		var source strings.Builder
		source.WriteString(p.SourceType)
		if p.ProductName != "" {
			source.WriteString(", " + p.ProductName)
		}
		text := fmt.Sprintf("[%s] (%s) %s", label, source.String(), body)

		items = append(items, item{
			text:   text,
			tokens: CountTokens(text),
			citation: models.Citation{
				Label:      label,
				Kind:       models.CitationPassage,
				Group:      models.IntentSemantic,
				ProductID:  p.ProductID,
				SourceType: p.SourceType,
				SourceID:   p.SourceID,
				Snippet:    utils.Truncate(body, maxSnippetRunes),
				Score:      p.Similarity,
			},
		})
	}
	return items
}

func renderRow(columns []string, row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		name := strconv.Itoa(i)
		if i < len(columns) {
			name = columns[i]
		}
		parts[i] = name + "=" + formatValue(v)
	}
	return strings.Join(parts, "; ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}
