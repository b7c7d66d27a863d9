package text2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

// Candidate is a generated query plus the tables and columns it reads.
type Candidate struct {
	SQL     string
	Tables  []string
	Columns []string
}

// Feedback carries a failed attempt into the next synthesis.
type Feedback struct {
	SQL   string
	Error string
}

type Synthesizer struct {
	oracle   llm.Oracle
	registry *catalog.Registry
	guard    *Guard
	dialect  catalog.Dialect
	maxRows  int
}

func NewSynthesizer(oracle llm.Oracle, registry *catalog.Registry, dialect catalog.Dialect, maxRows int) *Synthesizer {
	if maxRows <= 0 {
		maxRows = 200
	}
	return &Synthesizer{
		oracle:   oracle,
		registry: registry,
		guard:    NewGuard(registry),
		dialect:  dialect,
		maxRows:  maxRows,
	}
}

const synthesisPrompt = `You translate questions about consumer-electronics products into a single %s SQL query.

Rules:
- Produce exactly one read-only SELECT statement (WITH ... SELECT is allowed).
- Never write INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, GRANT or any other statement that changes data or schema.
- Use only the tables and columns listed below. Join spec tables to products on product_id.
- products.category_name is one of 'Monitor', 'Mouse', 'Keyboard'.
- Always select products.product_id and products.product_name when rows describe products.
- Add LIMIT %d unless the question asks for fewer rows.
- Use case-insensitive matching for product and brand names (%s).
- Return only the SQL, no explanation.

Schema:
%s`

func (s *Synthesizer) Synthesize(ctx context.Context, question string, feedback *Feedback) (*Candidate, error) {
	match := "LOWER(col) LIKE LOWER('%...%')"
	if s.dialect == catalog.DialectPostgres {
		match = "col ILIKE '%...%'"
	}

	user := question
	if feedback != nil {
		user = fmt.Sprintf("%s\n\nYour previous query failed.\nQuery:\n%s\nError:\n%s\n\nWrite a corrected query.",
			question, feedback.SQL, feedback.Error)
	}

	raw, err := s.oracle.Complete(ctx, llm.Prompt{
		System:      fmt.Sprintf(synthesisPrompt, dialectName(s.dialect), s.maxRows, match, s.registry.Describe()),
		User:        user,
		Temperature: 0.0,
		MaxTokens:   600,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: %w", models.ErrSynthesisFailed, models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrSynthesisFailed, err)
	}

	sql := extractSQL(raw)
	if sql == "" {
		return nil, fmt.Errorf("%w: empty output", models.ErrSynthesisFailed)
	}
	if !looksLikeStatement(sql) {
		return nil, fmt.Errorf("%w: output is not a SQL statement: %q", models.ErrSynthesisFailed, firstLine(sql))
	}

	candidate := &Candidate{SQL: sql}
	if a, err := s.guard.Analyze(sql); err == nil {
		candidate.Tables = a.Tables
		candidate.Columns = a.Columns
	}

	logger.Debug("Structured query synthesized",
		zap.String("sql", sql),
		zap.Strings("tables", candidate.Tables),
		zap.Bool("resynthesis", feedback != nil),
	)

	return candidate, nil
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\n(.*?)```")

// extractSQL takes the first fenced block if there is one, then trims
// whitespace and trailing semicolons.
func extractSQL(raw string) string {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else {
		text = llm.StripFences(text)
	}
	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

var statementRe = regexp.MustCompile(`(?i)^\(*\s*(select|with|insert|update|delete|drop|alter|truncate|grant|revoke|create|replace|merge|pragma|attach|detach|copy|set|call|exec|execute|vacuum|analyze|explain|begin|commit|rollback)\b`)

// looksLikeStatement separates SQL, safe or not, from prose such as refusals.
func looksLikeStatement(sql string) bool {
	return statementRe.MatchString(sql)
}

func dialectName(d catalog.Dialect) string {
	if d == catalog.DialectPostgres {
		return "PostgreSQL"
	}
	return "SQLite"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}
