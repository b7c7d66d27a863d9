package llm

import (
	"context"
	"strings"
)

type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON requests a JSON object response where the backend supports it.
	JSON bool
}

// Oracle is the text-completion capability used for classification,
// structured query synthesis and answer synthesis.
type Oracle interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type OracleFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f OracleFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, " \t(") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
