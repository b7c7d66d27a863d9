package query_test

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/catalog/catalogtest"
	"github.com/prodlens/backend/internal/fusion"
	"github.com/prodlens/backend/internal/intent"
	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/internal/query"
	"github.com/prodlens/backend/internal/retrieval"
	"github.com/prodlens/backend/internal/text2sql"
	"github.com/prodlens/backend/pkg/config"
)

const (
	scenarioA = "What monitors under $300 have response time rating above 8?"
	scenarioB = "What do reviewers say about the ergonomics of the Keychron Q1 keyboard?"
	scenarioC = "Compare the Dell S2721DGF and LG 27GP850 monitors for gaming and tell me what reviewers think of their stands"
	scenarioD = "Which keyboards are the cheapest?"
)

var scripted = map[string]struct {
	intent string
	sql    string
}{
	scenarioA: {
		intent: "structured",
		sql: "```sql\nSELECT p.product_id, p.product_name, p.price, m.response_time_rating\n" +
			"FROM products p JOIN monitor_specs m ON m.product_id = p.product_id\n" +
			"WHERE p.category_name = 'Monitor' AND p.price < 300 AND m.response_time_rating > 8\n" +
			"ORDER BY p.product_id LIMIT 200;\n```",
	},
	scenarioB: {intent: "semantic"},
	scenarioC: {
		intent: "hybrid",
		sql:    "SELECT product_id, product_name, ranking_gaming FROM products WHERE product_id IN (1, 2) ORDER BY product_id",
	},
	scenarioD: {intent: "structured", sql: "DROP TABLE products;"},
}

var labelRe = regexp.MustCompile(`\[[RP]\d+\]`)

// scriptedOracle answers each prompt kind deterministically.
var scriptedOracle = llm.OracleFunc(func(_ context.Context, p llm.Prompt) (string, error) {
	switch {
	case strings.HasPrefix(p.System, "You route"):
		return fmt.Sprintf(`{"intent": %q, "confidence": 0.9, "reasoning": "scripted"}`, scripted[p.User].intent), nil
	case strings.HasPrefix(p.System, "You translate"):
		return scripted[p.User].sql, nil
	default:
		return "Answer drawn from " + strings.Join(labelRe.FindAllString(p.User, -1), " "), nil
	}
})

var vocabulary = []string{
	"ergonomic", "wrist", "rest", "keyboard", "keychron", "q1", "typing", "comfortable", "heavy",
	"stand", "tilt", "wobble", "gaming", "monitor", "dell", "lg",
}

// bagEmbedder embeds text as word counts over a fixed vocabulary.
var bagEmbedder = llm.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(vocabulary))
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) > 3 {
			w = strings.TrimSuffix(w, "s")
		}
		for i, v := range vocabulary {
			if v == w {
				vec[i]++
			}
		}
	}
	return vec, nil
})

type memoryVectorStore struct {
	passages []models.Passage
	vectors  [][]float32
}

func newMemoryVectorStore(t *testing.T, passages []models.Passage) *memoryVectorStore {
	s := &memoryVectorStore{passages: passages}
	for _, p := range passages {
		v, err := bagEmbedder.Embed(context.Background(), p.Text)
		require.NoError(t, err)
		s.vectors = append(s.vectors, v)
	}
	return s
}

func (s *memoryVectorStore) Search(_ context.Context, vector []float32, limit int, filter retrieval.Filter) ([]models.Passage, error) {
	var hits []models.Passage
	for i, p := range s.passages {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.SourceType != "" && p.SourceType != filter.SourceType {
			continue
		}
		sim := cosine(vector, s.vectors[i])
		p.Similarity, p.Distance = sim, 1-sim
		hits = append(hits, p)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// fixturePassages mirrors the review and professional rating text seeded in
// the catalog fixture.
func fixturePassages() []models.Passage {
	kb, mon := models.CategoryKeyboard, models.CategoryMonitor
	return []models.Passage{
		{ID: "review-101", SourceType: retrieval.SourceReview, SourceID: "101", ProductID: catalogtest.KeychronQ1, Category: kb,
			Text: "The Q1 sits high but with a wrist rest the typing angle is comfortable for long sessions."},
		{ID: "review-102", SourceType: retrieval.SourceReview, SourceID: "102", ProductID: catalogtest.KeychronQ1, Category: kb,
			Text: "Solid aluminium case, very heavy, and the front edge digs into my wrists without a rest."},
		{ID: "rating-201", SourceType: retrieval.SourceProfessionalRating, SourceID: "201", ProductID: catalogtest.KeychronQ1, Category: kb,
			Text: "Excellent build quality; hot-swappable switches. High profile, no included wrist rest hurts ergonomics. A premium custom keyboard with great typing quality."},
		{ID: "rating-202", SourceType: retrieval.SourceProfessionalRating, SourceID: "202", ProductID: catalogtest.DellS2721DGF, Category: mon,
			Text: "Fast response time; wide viewing angles. Stand only offers tilt adjustment. A great 1440p gaming monitor."},
		{ID: "rating-203", SourceType: retrieval.SourceProfessionalRating, SourceID: "203", ProductID: catalogtest.LG27GP850, Category: mon,
			Text: "Outstanding motion handling. Stand wobbles; limited ergonomic adjustments. An excellent gaming monitor."},
	}
}

type countingStore struct {
	next  text2sql.Store
	calls int32
}

func (s *countingStore) Query(ctx context.Context, sql string, limits catalog.Limits) (*models.ResultSet, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.next.Query(ctx, sql, limits)
}

type system struct {
	engine  *query.Engine
	store   *countingStore
	fixture *catalogtest.Fixture
}

func newSystem(t *testing.T) *system {
	t.Helper()

	fx := catalogtest.New(t)
	store := &countingStore{next: fx.Store}
	limits := catalog.Limits{MaxRows: 200, StatementTimeout: 2 * time.Second}

	engine := query.NewEngine(query.Deps{
		Classifier:  intent.NewClassifier(scriptedOracle, fx.Registry, intent.DefaultMinConfidence),
		Synthesizer: text2sql.NewSynthesizer(scriptedOracle, fx.Registry, catalog.DialectSQLite, 200),
		Executor:    text2sql.NewExecutor(store, fx.Registry, limits),
		Retriever:   retrieval.NewRetriever(bagEmbedder, newMemoryVectorStore(t, fixturePassages()), fx.Store, 5, 0.1),
		Fuser:       fusion.NewFuser(scriptedOracle, 3000),
	}, config.EngineConfig{
		RequestTimeout:      5 * time.Second,
		RetryBackoff:        time.Millisecond,
		TopK:                5,
		MaxQueryLength:      1000,
		ResynthesisAttempts: 1,
	})

	return &system{engine: engine, store: store, fixture: fx}
}

func productIDs(citations []models.Citation, kind models.CitationKind) []int64 {
	var ids []int64
	for _, c := range citations {
		if c.Kind == kind {
			ids = append(ids, c.ProductID)
		}
	}
	return ids
}

func TestScenario_StructuredFilter(t *testing.T) {
	sys := newSystem(t)

	res, err := sys.engine.Answer(context.Background(), scenarioA)
	require.NoError(t, err)

	assert.Equal(t, models.IntentStructured, res.Intent)
	assert.Equal(t, models.IntentStructured, res.Route)
	assert.False(t, res.Degraded.Any())
	assert.Equal(t, []int64{catalogtest.DellS2721DGF, catalogtest.LG27GP850}, productIDs(res.Citations, models.CitationRow))
	assert.Empty(t, productIDs(res.Citations, models.CitationPassage))
	assert.Contains(t, res.SQL, "JOIN monitor_specs m ON m.product_id = p.product_id")
	assert.Equal(t, "Answer drawn from [R1] [R2]", res.Text)
}

func TestScenario_SemanticOpinions(t *testing.T) {
	sys := newSystem(t)

	res, err := sys.engine.Answer(context.Background(), scenarioB)
	require.NoError(t, err)

	assert.Equal(t, models.IntentSemantic, res.Route)
	assert.Zero(t, atomic.LoadInt32(&sys.store.calls))
	require.NotEmpty(t, res.Citations)
	for _, c := range res.Citations {
		assert.Equal(t, models.CitationPassage, c.Kind)
		assert.Equal(t, catalogtest.KeychronQ1, c.ProductID)
		assert.Contains(t, []string{retrieval.SourceReview, retrieval.SourceProfessionalRating}, c.SourceType)
	}
	assert.Equal(t, "201", res.Citations[0].SourceID)
}

func TestScenario_HybridComparison(t *testing.T) {
	sys := newSystem(t)

	res, err := sys.engine.Answer(context.Background(), scenarioC)
	require.NoError(t, err)

	assert.Equal(t, models.IntentHybrid, res.Route)
	assert.False(t, res.Degraded.Any())
	assert.Equal(t, []int64{catalogtest.DellS2721DGF, catalogtest.LG27GP850}, productIDs(res.Citations, models.CitationRow))
	assert.ElementsMatch(t, []int64{catalogtest.DellS2721DGF, catalogtest.LG27GP850}, productIDs(res.Citations, models.CitationPassage))

	groups := map[models.Intent]int{}
	for _, c := range res.Citations {
		groups[c.Group]++
	}
	assert.Equal(t, 2, groups[models.IntentStructured])
	assert.Equal(t, 2, groups[models.IntentSemantic])
}

func TestScenario_UnsafeSynthesisNeverReachesStore(t *testing.T) {
	sys := newSystem(t)
	before := sys.fixture.Count(t, "products")

	res, err := sys.engine.Answer(context.Background(), scenarioD)
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(&sys.store.calls))
	assert.Equal(t, before, sys.fixture.Count(t, "products"))
	assert.True(t, res.Degraded.Structured)
	assert.Equal(t, models.IntentSemantic, res.Route)
	assert.Contains(t, res.States, "semantic")
}

func TestScenario_Idempotent(t *testing.T) {
	sys := newSystem(t)

	for _, q := range []string{scenarioA, scenarioB, scenarioC} {
		first, err := sys.engine.Answer(context.Background(), q)
		require.NoError(t, err)
		second, err := sys.engine.Answer(context.Background(), q)
		require.NoError(t, err)

		assert.Equal(t, citationKeys(first.Citations), citationKeys(second.Citations), q)
		assert.NotEqual(t, first.RequestID, second.RequestID)
	}
}

func citationKeys(citations []models.Citation) []string {
	keys := make([]string, len(citations))
	for i, c := range citations {
		keys[i] = c.Key()
	}
	return keys
}
