package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prodlens/backend/pkg/circuitbreaker"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prodlens_answer_duration_seconds",
			Help:    "Answer latency in seconds by classified intent",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_answer_total",
			Help: "Total answers by final status",
		},
		[]string{"status"},
	)

	PathOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_path_outcomes_total",
			Help: "Retrieval path outcomes",
		},
		[]string{"path", "outcome"},
	)

	DegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_degraded_total",
			Help: "Answers produced with a degraded component",
		},
		[]string{"component"},
	)

	UnsafeQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_unsafe_queries_total",
			Help: "Generated SQL rejected before execution",
		},
		[]string{"reason"},
	)

	Resyntheses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prodlens_resynthesis_total",
			Help: "Structured queries regenerated after an execution error",
		},
	)

	ClassificationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prodlens_classification_confidence",
			Help:    "Intent classification confidence",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prodlens_rows_returned",
			Help:    "Rows returned by the structured path per answer",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
		},
	)

	PassagesRetrieved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prodlens_passages_retrieved",
			Help:    "Passages returned by the semantic path per answer",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prodlens_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prodlens_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(PathOutcomes)
	prometheus.MustRegister(DegradedTotal)
	prometheus.MustRegister(UnsafeQueries)
	prometheus.MustRegister(Resyntheses)
	prometheus.MustRegister(ClassificationConfidence)
	prometheus.MustRegister(RowsReturned)
	prometheus.MustRegister(PassagesRetrieved)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(BreakerState)
}

// ObserveBreaker is a circuitbreaker.Config.OnStateChange hook.
func ObserveBreaker(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(breakerGauge(to)))
}

func breakerGauge(s circuitbreaker.State) int {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	}
	return 0
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
