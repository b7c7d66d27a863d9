package query

import (
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/internal/retrieval"
)

// Plan is the routing decision for one request. The set of plans is closed:
// StructuredPlan, SemanticPlan and HybridPlan.
type Plan interface {
	Intent() models.Intent
	plan()
}

type StructuredPlan struct {
	Question string
}

type SemanticPlan struct {
	Request retrieval.Request
}

type HybridPlan struct {
	Structured StructuredPlan
	Semantic   SemanticPlan
}

func (StructuredPlan) Intent() models.Intent { return models.IntentStructured }
func (SemanticPlan) Intent() models.Intent   { return models.IntentSemantic }
func (HybridPlan) Intent() models.Intent     { return models.IntentHybrid }

func (StructuredPlan) plan() {}
func (SemanticPlan) plan()   {}
func (HybridPlan) plan()     {}

func newPlan(intent models.Intent, query string, topK int) Plan {
	structured := StructuredPlan{Question: query}
	semantic := semanticPlan(query, topK)

	switch intent {
	case models.IntentStructured:
		return structured
	case models.IntentSemantic:
		return semantic
	default:
		return HybridPlan{Structured: structured, Semantic: semantic}
	}
}

type State string

const (
	StateReceived    State = "received"
	StateClassifying State = "classifying"
	StateStructured  State = "structured"
	StateSemantic    State = "semantic"
	StateHybrid      State = "hybrid"
	StateFusing      State = "fusing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

func stateFor(p Plan) State {
	switch p.(type) {
	case StructuredPlan:
		return StateStructured
	case SemanticPlan:
		return StateSemantic
	case HybridPlan:
		return StateHybrid
	}
	return StateFailed
}

func semanticPlan(query string, topK int) SemanticPlan {
	return SemanticPlan{Request: retrieval.Request{
		Query:  query,
		TopK:   topK,
		Filter: retrieval.InferFilter(query),
	}}
}
