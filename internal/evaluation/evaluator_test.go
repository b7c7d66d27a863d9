package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
)

type scriptedEngine struct {
	mu      sync.Mutex
	calls   map[string]int
	answers map[string][]*models.AnswerResult
	err     map[string]error
}

func (s *scriptedEngine) Answer(_ context.Context, query string) (*models.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	n := s.calls[query]
	s.calls[query]++

	seq := s.answers[query]
	if len(seq) == 0 {
		return nil, s.err[query]
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], s.err[query]
}

func rowCitation(label string, productID int64) models.Citation {
	return models.Citation{Label: label, Kind: models.CitationRow, Group: models.IntentStructured, Table: "products", ProductID: productID, Snippet: label}
}

func passageCitation(label, sourceID string) models.Citation {
	return models.Citation{Label: label, Kind: models.CitationPassage, Group: models.IntentSemantic, SourceType: "review", SourceID: sourceID}
}

func TestLoadDataset(t *testing.T) {
	ds, err := LoadDataset(strings.NewReader(`{"items":[
		{"query":"Cheapest 27 inch monitor?","expected_intent":"structured","ground_truth":"The Dell S2721DGF."},
		{"query":"What do reviewers say about the Q1?"}
	]}`))
	require.NoError(t, err)
	require.Len(t, ds.Items, 2)
	assert.Equal(t, models.IntentStructured, ds.Items[0].ExpectedIntent)
	assert.Empty(t, ds.Items[1].ExpectedIntent)

	_, err = LoadDataset(strings.NewReader(`{"items":[{"query":"x","expected_intent":"graph"}]}`))
	assert.ErrorContains(t, err, "unknown intent")

	_, err = LoadDataset(strings.NewReader(`{"items":[{"query":"  "}]}`))
	assert.ErrorContains(t, err, "no query")

	_, err = LoadDataset(strings.NewReader(`{"items":[]}`))
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = LoadDataset(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestGrounded(t *testing.T) {
	tests := []struct {
		name string
		res  *models.AnswerResult
		want bool
	}{
		{
			name: "cites supplied labels",
			res:  &models.AnswerResult{Text: "It costs $169 [R1] and types well [P1].", Citations: []models.Citation{rowCitation("R1", 5), passageCitation("P1", "101")}},
			want: true,
		},
		{
			name: "cites an unknown label",
			res:  &models.AnswerResult{Text: "It costs $169 [R2].", Citations: []models.Citation{rowCitation("R1", 5)}},
		},
		{
			name: "cites nothing",
			res:  &models.AnswerResult{Text: "It costs $169.", Citations: []models.Citation{rowCitation("R1", 5)}},
		},
		{
			name: "insufficient",
			res:  &models.AnswerResult{Text: "[R1]", Insufficient: true, Citations: []models.Citation{rowCitation("R1", 5)}},
		},
		{name: "nil", res: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Grounded(tt.res))
		})
	}
}

func TestRun(t *testing.T) {
	structured := &models.AnswerResult{
		Intent:    models.IntentStructured,
		Route:     models.IntentStructured,
		Text:      "The Dell S2721DGF is cheapest [R1].",
		Citations: []models.Citation{rowCitation("R1", 1)},
		LatencyMS: 100,
	}
	semanticA := &models.AnswerResult{
		Intent:    models.IntentHybrid,
		Route:     models.IntentHybrid,
		Text:      "Reviewers find it heavy [P1].",
		Citations: []models.Citation{passageCitation("P1", "102")},
		Degraded:  models.Degraded{Structured: true},
		LatencyMS: 300,
	}
	semanticB := &models.AnswerResult{
		Intent:    models.IntentHybrid,
		Route:     models.IntentHybrid,
		Text:      "Reviewers find it comfortable [P1].",
		Citations: []models.Citation{passageCitation("P1", "101")},
		LatencyMS: 300,
	}

	engine := &scriptedEngine{
		answers: map[string][]*models.AnswerResult{
			"cheapest monitor": {structured},
			"q1 opinions":      {semanticA, semanticB},
		},
		err: map[string]error{
			"broken": errors.New("engine down"),
		},
	}

	embedder := llm.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "Dell") {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	})

	ev := NewEvaluator(engine, embedder, 2)
	report, err := ev.Run(context.Background(), &Dataset{Items: []Item{
		{Query: "cheapest monitor", ExpectedIntent: models.IntentStructured, GroundTruth: "Dell S2721DGF"},
		{Query: "q1 opinions", ExpectedIntent: models.IntentSemantic},
		{Query: "broken", ExpectedIntent: models.IntentStructured},
	}})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalQueries)
	assert.Equal(t, 1, report.FailedQueries)
	assert.InDelta(t, 1.0/3, report.RouteAccuracy, 1e-9)
	assert.InDelta(t, 1.0/3, report.DegradedRate, 1e-9)
	assert.InDelta(t, 2.0/3, report.GroundedRate, 1e-9)
	assert.InDelta(t, 1.0/3, report.StabilityRate, 1e-9)
	assert.InDelta(t, 1.0, report.AvgSimilarity, 1e-9)

	require.Len(t, report.Items, 3)
	assert.True(t, report.Items[0].Stable)
	assert.False(t, report.Items[1].Stable)
	assert.Nil(t, report.Items[1].Similarity)
	assert.Equal(t, "engine down", report.Items[2].Error)

	assert.Equal(t, 2, engine.calls["cheapest monitor"])

	out := Render(report)
	assert.Contains(t, out, "Route Accuracy:   33.3%")
	assert.Contains(t, out, `"q1 opinions": expected semantic, got hybrid`)
	assert.Contains(t, out, `"broken": expected structured, got none`)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := NewEvaluator(&scriptedEngine{}, nil, 1)
	_, err := ev.Run(ctx, &Dataset{Items: []Item{{Query: "q"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
