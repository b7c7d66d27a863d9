package intent

import (
	"context"
	"encoding/json"
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

const DefaultMinConfidence = 0.35

type Source string

const (
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
)

type Result struct {
	Intent     models.Intent
	Confidence float64
	Reasoning  string
	Source     Source
}

type Classifier struct {
	oracle        llm.Oracle
	registry      *catalog.Registry
	minConfidence float64
}

func NewClassifier(oracle llm.Oracle, registry *catalog.Registry, minConfidence float64) *Classifier {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Classifier{
		oracle:        oracle,
		registry:      registry,
		minConfidence: minConfidence,
	}
}

const systemPrompt = `You route questions about consumer-electronics products (monitors, mice, keyboards) to a retrieval strategy.

Intents:
- structured: answerable from catalog columns alone: prices, ratings, rankings, specifications, filters, sorting, counts.
  e.g. "What monitors under $300 have response time rating above 8?", "List the 5 lightest wireless mice."
- semantic: needs opinion or explanatory text from reviews and expert write-ups: what people say, pros and cons, feel, ergonomics.
  e.g. "What do reviewers say about the ergonomics of the Keychron Q1?", "Why do people like the G Pro X?"
- hybrid: needs both catalog data and review text.
  e.g. "Compare the Dell S2721DGF and LG 27GP850 for gaming and tell me what reviewers think of their stands."

Catalog tables and columns:
%s

Respond with a JSON object only: {"intent": "structured|semantic|hybrid", "confidence": 0.0-1.0, "reasoning": "one sentence"}`

type oracleAnswer struct {
	Intent     string   `json:"intent"`
	Route      string   `json:"route"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Classify asks the oracle for an intent and reconciles it with keyword
// heuristics. Unparseable or low-confidence answers become Hybrid.
func (c *Classifier) Classify(ctx context.Context, query string) (*Result, error) {
	raw, err := c.oracle.Complete(ctx, llm.Prompt{
		System:      fmt.Sprintf(systemPrompt, c.registry.Summary()),
		User:        query,
		Temperature: 0.0,
		MaxTokens:   150,
		JSON:        true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: %w", models.ErrClassificationUnavailable, models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrClassificationUnavailable, err)
	}

	result := parse(raw)
	if result.Source == SourceFallback {
		logger.Debug("Unparseable classification, defaulting to hybrid", zap.String("raw", raw))
		return result, nil
	}

	h := heuristics(query)
	switch {
	case h == "":
	case h == result.Intent:
		result.Confidence += 0.1
	default:
		result.Confidence -= 0.2
	}
	result.Confidence = clamp(result.Confidence)

	if result.Confidence < c.minConfidence && result.Intent != models.IntentHybrid {
		logger.Debug("Low classification confidence, widening to hybrid",
			zap.String("oracle_intent", string(result.Intent)),
			zap.Float64("confidence", result.Confidence),
		)
		result.Intent = models.IntentHybrid
	}

	return result, nil
}

func parse(raw string) *Result {
	text := llm.StripFences(raw)

	var ans oracleAnswer
	if err := json.Unmarshal([]byte(text), &ans); err == nil {
		label := ans.Intent
		if label == "" {
			label = ans.Route
		}
		if intent, err := models.ParseIntent(label); err == nil {
			confidence := 0.7
			if ans.Confidence != nil {
				confidence = clamp(*ans.Confidence)
			}
			return &Result{Intent: intent, Confidence: confidence, Reasoning: ans.Reasoning, Source: SourceOracle}
		}
	}

	if intent, ok := singleLabel(text); ok {
		return &Result{Intent: intent, Confidence: 0.5, Source: SourceOracle}
	}

	return &Result{Intent: models.IntentHybrid, Confidence: 0, Source: SourceFallback}
}

var labelRe = regexp.MustCompile(`(?i)\b(structured|semantic|hybrid)\b`)

// singleLabel accepts free text that names exactly one intent.
func singleLabel(text string) (models.Intent, bool) {
	seen := map[models.Intent]bool{}
	for _, m := range labelRe.FindAllString(text, -1) {
		seen[models.Intent(strings.ToLower(m))] = true
	}
	if len(seen) != 1 {
		return "", false
	}
	for intent := range seen {
		return intent, true
	}
	return "", false
}

var (
	structuredCues = regexp.MustCompile(`(?i)(\$\s?\d|\b\d+\s?(hz|ms|inch|in|"|g|gm|grams|mm|dollars?|usd)\b|\b(price|prices|priced|cost|cheapest|cheaper|expensive|under|below|above|over|less than|more than|at least|at most|between|rank|ranking|ranked|rating|rated|top|best|list|how many|count|average|refresh rate|response time|resolution|weight|size|wireless|bluetooth|released?|release year)\b)`)
	semanticCues   = regexp.MustCompile(`(?i)\b(reviewers?|reviews?|opinions?|think|thinks|say|says|said|feel|feels|experience|explain|why|what is|what are|pros|cons|complain|complaints?|ergonomic|ergonomics|comfortable|comfort|build quality|recommend|worth it|impressions?)\b`)
)

// heuristics returns the intent suggested by keyword cues alone, or "" when
// there are none.
func heuristics(query string) models.Intent {
	s := len(structuredCues.FindAllString(query, -1))
	m := len(semanticCues.FindAllString(query, -1))
	switch {
	case s > 0 && m > 0:
		return models.IntentHybrid
	case s > 0:
		return models.IntentStructured
	case m > 0:
		return models.IntentSemantic
	}
	return ""
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
