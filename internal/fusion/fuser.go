package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

const DefaultTokenBudget = 3000

// InsufficientDataAnswer is returned verbatim when nothing was retrieved.
const InsufficientDataAnswer = "I don't have enough information in the product catalog or reviews to answer that question."

const baseRules = `Answer only from the context below. Cite every fact with the label of the row or passage it came from, for example [R1] or [P2]. If the context does not answer the question, say so plainly. Never invent products, prices, specifications or opinions.`

var systemPrompts = map[models.Intent]string{
	models.IntentStructured: `You are a consumer electronics product analyst. Present the catalog data that answers the question: list the matching products with their relevant values, and compare them when more than one matches. ` + baseRules,
	models.IntentSemantic:   `You are a consumer electronics reviewer. Explain what reviewers and professional testers say, summarising agreement and disagreement across sources. ` + baseRules,
	models.IntentHybrid:     `You are a consumer electronics advisor. Combine the catalog data with what reviewers say: use rows for facts and figures, passages for opinions and experience. ` + baseRules,
}

type Input struct {
	Query  string
	Intent models.Intent
	Rows   *models.ResultSet
	// Table is the primary table the rows were selected from.
	Table    string
	Passages []models.Passage
}

type Output struct {
	Text         string
	Citations    []models.Citation
	Insufficient bool
	Tokens       int
}

type Fuser struct {
	oracle llm.Oracle
	budget int
}

func NewFuser(oracle llm.Oracle, tokenBudget int) *Fuser {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Fuser{oracle: oracle, budget: tokenBudget}
}

func (f *Fuser) Fuse(ctx context.Context, in Input) (*Output, error) {
	w := BuildWindow(in, f.budget)
	if w.Empty() {
		return insufficient(), nil
	}

	if w.Dropped > 0 {
		logger.Debug("Context window truncated",
			zap.Int("dropped", w.Dropped),
			zap.Int("tokens", w.Tokens),
			zap.Int("budget", f.budget),
		)
	}

	system, ok := systemPrompts[in.Intent]
	if !ok {
		system = systemPrompts[models.IntentHybrid]
	}

	text, err := f.oracle.Complete(ctx, llm.Prompt{
		System:      system,
		User:        renderContext(w) + "\nQuestion: " + in.Query,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, unavailable(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty answer", models.ErrSynthesisUnavailable)
	}

	return &Output{Text: text, Citations: w.Citations, Tokens: w.Tokens}, nil
}

// Raw renders the same context without narrative, for when the oracle cannot
// be reached.
func (f *Fuser) Raw(in Input) *Output {
	w := BuildWindow(in, f.budget)
	if w.Empty() {
		return insufficient()
	}

	var b strings.Builder
	b.WriteString("An answer summary is unavailable. Retrieved context:\n")
	b.WriteString(renderContext(w))

	return &Output{Text: strings.TrimRight(b.String(), "\n"), Citations: w.Citations, Tokens: w.Tokens}
}

func renderContext(w Window) string {
	var b strings.Builder
	if len(w.Rows) > 0 {
		b.WriteString("Catalog rows:\n")
		for _, r := range w.Rows {
			b.WriteString(r)
			b.WriteByte('\n')
		}
	}
	if len(w.Passages) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Review passages:\n")
		for _, p := range w.Passages {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func insufficient() *Output {
	return &Output{Text: InsufficientDataAnswer, Insufficient: true}
}

func unavailable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", models.ErrSynthesisUnavailable, models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", models.ErrSynthesisUnavailable, err)
}
