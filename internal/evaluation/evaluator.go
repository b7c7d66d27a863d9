package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/pkg/logger"
)

// Answerer is the engine under evaluation.
type Answerer interface {
	Answer(ctx context.Context, query string) (*models.AnswerResult, error)
}

var ErrNoItems = errors.New("dataset has no items")

type Dataset struct {
	Items []Item `json:"items"`
}

type Item struct {
	Query          string        `json:"query"`
	ExpectedIntent models.Intent `json:"expected_intent,omitempty"`
	GroundTruth    string        `json:"ground_truth,omitempty"`
}

type ItemResult struct {
	Query          string        `json:"query"`
	ExpectedIntent models.Intent `json:"expected_intent,omitempty"`
	Intent         models.Intent `json:"intent,omitempty"`
	Route          models.Intent `json:"route,omitempty"`
	IntentMatch    bool          `json:"intent_match"`
	Degraded       bool          `json:"degraded"`
	Grounded       bool          `json:"grounded"`
	Stable         bool          `json:"stable"`
	Similarity     *float64      `json:"similarity,omitempty"`
	LatencyMS      int64         `json:"latency_ms"`
	Error          string        `json:"error,omitempty"`
}

type Report struct {
	TotalQueries  int          `json:"total_queries"`
	FailedQueries int          `json:"failed_queries"`
	RouteAccuracy float64      `json:"route_accuracy"`
	DegradedRate  float64      `json:"degraded_rate"`
	GroundedRate  float64      `json:"grounded_rate"`
	StabilityRate float64      `json:"stability_rate"`
	AvgSimilarity float64      `json:"avg_similarity"`
	AvgLatencyMS  float64      `json:"avg_latency_ms"`
	Items         []ItemResult `json:"items"`
}

type Evaluator struct {
	engine      Answerer
	embedder    llm.Embedder
	concurrency int
}

// NewEvaluator returns an evaluator. embedder may be nil, in which case
// ground-truth similarity is skipped.
func NewEvaluator(engine Answerer, embedder llm.Embedder, concurrency int) *Evaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Evaluator{
		engine:      engine,
		embedder:    embedder,
		concurrency: concurrency,
	}
}

func LoadDataset(r io.Reader) (*Dataset, error) {
	var dataset Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	if len(dataset.Items) == 0 {
		return nil, ErrNoItems
	}
	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Query) == "" {
			return nil, fmt.Errorf("dataset item %d has no query", i)
		}
		if item.ExpectedIntent != "" && !item.ExpectedIntent.Valid() {
			return nil, fmt.Errorf("dataset item %d has unknown intent %q", i, item.ExpectedIntent)
		}
	}
	return &dataset, nil
}

func LoadDatasetFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return LoadDataset(f)
}

// Run answers every item twice. The second answer only feeds the stability
// check: the same query must cite the same rows and passages.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	results := make([]ItemResult, len(dataset.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, item := range dataset.Items {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluateItem(gctx, item)
			logger.Debug("Item evaluated", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation interrupted: %w", err)
	}

	report := summarize(results)

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.FailedQueries),
		zap.Float64("route_accuracy", report.RouteAccuracy),
		zap.Float64("grounded_rate", report.GroundedRate),
	)

	return report, nil
}

func (e *Evaluator) evaluateItem(ctx context.Context, item Item) ItemResult {
	out := ItemResult{Query: item.Query, ExpectedIntent: item.ExpectedIntent}

	first, err := e.engine.Answer(ctx, item.Query)
	if first == nil {
		out.Error = errString(err, "no result")
		return out
	}
	if err != nil {
		out.Error = err.Error()
	}

	out.Intent = first.Intent
	out.Route = first.Route
	out.IntentMatch = item.ExpectedIntent != "" && first.Intent == item.ExpectedIntent
	out.Degraded = first.Degraded.Any()
	out.Grounded = Grounded(first)
	out.LatencyMS = first.LatencyMS

	second, err := e.engine.Answer(ctx, item.Query)
	if second != nil {
		out.Stable = sameCitations(first, second)
	} else {
		logger.Warn("Repeat answer failed", zap.String("query", item.Query), zap.Error(err))
	}

	if e.embedder != nil && item.GroundTruth != "" && !first.Insufficient {
		sim, err := e.similarity(ctx, first.Text, item.GroundTruth)
		if err != nil {
			logger.Warn("Failed to calculate cosine similarity", zap.Error(err))
		} else {
			out.Similarity = &sim
		}
	}

	return out
}

func summarize(results []ItemResult) *Report {
	report := &Report{TotalQueries: len(results), Items: results}
	if len(results) == 0 {
		return report
	}

	var labelled, matched, degraded, grounded, stable, similar int
	var similarity, latency float64
	for _, r := range results {
		if r.Intent == "" {
			report.FailedQueries++
		}
		if r.ExpectedIntent != "" {
			labelled++
			if r.IntentMatch {
				matched++
			}
		}
		if r.Degraded {
			degraded++
		}
		if r.Grounded {
			grounded++
		}
		if r.Stable {
			stable++
		}
		if r.Similarity != nil {
			similar++
			similarity += *r.Similarity
		}
		latency += float64(r.LatencyMS)
	}

	total := float64(len(results))
	report.RouteAccuracy = ratio(matched, labelled)
	report.DegradedRate = float64(degraded) / total
	report.GroundedRate = float64(grounded) / total
	report.StabilityRate = float64(stable) / total
	report.AvgLatencyMS = latency / total
	if similar > 0 {
		report.AvgSimilarity = similarity / float64(similar)
	}

	return report
}

var labelRe = regexp.MustCompile(`\[([RP]\d+)\]`)

// Grounded reports whether the answer cites at least one label and every
// label it cites was actually supplied as context.
func Grounded(res *models.AnswerResult) bool {
	if res == nil || res.Insufficient || len(res.Citations) == 0 {
		return false
	}

	known := make(map[string]bool, len(res.Citations))
	for _, c := range res.Citations {
		known[c.Label] = true
	}

	matches := labelRe.FindAllStringSubmatch(res.Text, -1)
	if len(matches) == 0 {
		return false
	}
	for _, m := range matches {
		if !known[m[1]] {
			return false
		}
	}
	return true
}

func sameCitations(a, b *models.AnswerResult) bool {
	if a.Route != b.Route {
		return false
	}
	ka, kb := citationKeys(a), citationKeys(b)
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

func citationKeys(res *models.AnswerResult) []string {
	keys := make([]string, len(res.Citations))
	for i, c := range res.Citations {
		keys[i] = c.Key()
	}
	sort.Strings(keys)
	return keys
}

func (e *Evaluator) similarity(ctx context.Context, text1, text2 string) (float64, error) {
	emb1, err := e.embedder.Embed(ctx, text1)
	if err != nil {
		return 0, err
	}

	emb2, err := e.embedder.Embed(ctx, text2)
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(emb1, emb2), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func errString(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

func Render(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Evaluation Report
=================

Total Queries: %d
Failed Queries: %d

Route Accuracy:   %.1f%%
Grounded Answers: %.1f%%
Stable Citations: %.1f%%
Degraded Answers: %.1f%%

Cosine Similarity to Ground Truth: %.3f
Average Latency: %.0f ms
`,
		report.TotalQueries,
		report.FailedQueries,
		report.RouteAccuracy*100,
		report.GroundedRate*100,
		report.StabilityRate*100,
		report.DegradedRate*100,
		report.AvgSimilarity,
		report.AvgLatencyMS,
	)

	var misrouted []string
	for _, r := range report.Items {
		if r.ExpectedIntent != "" && !r.IntentMatch {
			misrouted = append(misrouted, fmt.Sprintf("- %q: expected %s, got %s", r.Query, r.ExpectedIntent, orNone(r.Intent)))
		}
	}
	if len(misrouted) > 0 {
		b.WriteString("\nMisrouted:\n")
		b.WriteString(strings.Join(misrouted, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func orNone(i models.Intent) string {
	if i == "" {
		return "none"
	}
	return string(i)
}
