package intent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodlens/backend/internal/catalog"
	"github.com/prodlens/backend/internal/llm"
	"github.com/prodlens/backend/internal/models"
)

func reply(text string) llm.Oracle {
	return llm.OracleFunc(func(context.Context, llm.Prompt) (string, error) {
		return text, nil
	})
}

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		oracle     string
		wantIntent models.Intent
		wantSource Source
	}{
		{
			name:       "structured with agreeing cues",
			query:      "What monitors under $300 have response time rating above 8?",
			oracle:     `{"intent":"structured","confidence":0.8,"reasoning":"numeric filters"}`,
			wantIntent: models.IntentStructured,
			wantSource: SourceOracle,
		},
		{
			name:       "semantic",
			query:      "What do reviewers say about the ergonomics of keyboard X?",
			oracle:     `{"intent":"semantic","confidence":0.9}`,
			wantIntent: models.IntentSemantic,
			wantSource: SourceOracle,
		},
		{
			name:       "hybrid",
			query:      "Compare monitor X and Y for gaming and tell me what reviewers think of their stands",
			oracle:     "```json\n{\"intent\":\"hybrid\",\"confidence\":0.7}\n```",
			wantIntent: models.IntentHybrid,
			wantSource: SourceOracle,
		},
		{
			name:       "route key accepted",
			query:      "List keyboards with numpad",
			oracle:     `{"route":"structured","reasoning":"filter"}`,
			wantIntent: models.IntentStructured,
			wantSource: SourceOracle,
		},
		{
			name:       "bare label",
			query:      "Why do people like this mouse?",
			oracle:     "Semantic.",
			wantIntent: models.IntentSemantic,
			wantSource: SourceOracle,
		},
		{
			name:       "garbage falls back to hybrid",
			query:      "monitor",
			oracle:     "I am not sure what you mean",
			wantIntent: models.IntentHybrid,
			wantSource: SourceFallback,
		},
		{
			name:       "two labels are ambiguous",
			query:      "monitor",
			oracle:     "structured or semantic",
			wantIntent: models.IntentHybrid,
			wantSource: SourceFallback,
		},
		{
			name:       "low confidence disagreement widens to hybrid",
			query:      "What do reviewers say about the stand?",
			oracle:     `{"intent":"structured","confidence":0.4}`,
			wantIntent: models.IntentHybrid,
			wantSource: SourceOracle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(reply(tt.oracle), catalog.Default(), 0)

			res, err := c.Classify(context.Background(), tt.query)
			require.NoError(t, err)

			assert.Equal(t, tt.wantIntent, res.Intent)
			assert.Equal(t, tt.wantSource, res.Source)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
		})
	}
}

func TestClassifier_ConfidenceAdjustment(t *testing.T) {
	c := NewClassifier(reply(`{"intent":"structured","confidence":0.6}`), catalog.Default(), 0)

	agree, err := c.Classify(context.Background(), "cheapest monitor under $200")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, agree.Confidence, 1e-9)

	disagree, err := c.Classify(context.Background(), "what do reviewers think of it")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, disagree.Confidence, 1e-9)
	assert.Equal(t, models.IntentStructured, disagree.Intent)
}

func TestClassifier_PromptCarriesSchema(t *testing.T) {
	var got llm.Prompt
	oracle := llm.OracleFunc(func(_ context.Context, p llm.Prompt) (string, error) {
		got = p
		return `{"intent":"semantic"}`, nil
	})

	_, err := NewClassifier(oracle, catalog.Default(), 0).Classify(context.Background(), "q")
	require.NoError(t, err)

	assert.True(t, got.JSON)
	assert.Contains(t, got.System, "monitor_specs: product_id, size_inch")
	assert.Equal(t, "q", got.User)
}

func TestClassifier_OracleErrors(t *testing.T) {
	down := llm.OracleFunc(func(context.Context, llm.Prompt) (string, error) {
		return "", errors.New("connection refused")
	})
	_, err := NewClassifier(down, catalog.Default(), 0).Classify(context.Background(), "q")
	assert.ErrorIs(t, err, models.ErrClassificationUnavailable)
	assert.NotErrorIs(t, err, models.ErrTimeout)

	slow := llm.OracleFunc(func(context.Context, llm.Prompt) (string, error) {
		return "", fmt.Errorf("request: %w", context.DeadlineExceeded)
	})
	_, err = NewClassifier(slow, catalog.Default(), 0).Classify(context.Background(), "q")
	assert.ErrorIs(t, err, models.ErrClassificationUnavailable)
	assert.ErrorIs(t, err, models.ErrTimeout)
}
