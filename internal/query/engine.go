package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/fusion"
	"github.com/prodlens/backend/internal/intent"
	"github.com/prodlens/backend/internal/metrics"
	"github.com/prodlens/backend/internal/models"
	"github.com/prodlens/backend/internal/retrieval"
	"github.com/prodlens/backend/internal/text2sql"
	"github.com/prodlens/backend/pkg/config"
	"github.com/prodlens/backend/pkg/logger"
	"github.com/prodlens/backend/pkg/retry"
	"github.com/prodlens/backend/pkg/utils"
)

type Classifier interface {
	Classify(ctx context.Context, query string) (*intent.Result, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, feedback *text2sql.Feedback) (*text2sql.Candidate, error)
}

type Executor interface {
	Execute(ctx context.Context, c *text2sql.Candidate) (*models.ResultSet, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]models.Passage, error)
}

type Fuser interface {
	Fuse(ctx context.Context, in fusion.Input) (*fusion.Output, error)
	Raw(in fusion.Input) *fusion.Output
}

// Deps are the long-lived collaborators shared by every request.
type Deps struct {
	Classifier  Classifier
	Synthesizer Synthesizer
	Executor    Executor
	Retriever   Retriever
	Fuser       Fuser
}

// Engine answers questions by routing them through the structured path, the
// semantic path or both. It holds no per-request state.
type Engine struct {
	classifier  Classifier
	synthesizer Synthesizer
	executor    Executor
	retriever   Retriever
	fuser       Fuser
	cfg         config.EngineConfig
}

func NewEngine(deps Deps, cfg config.EngineConfig) *Engine {
	return &Engine{
		classifier:  deps.Classifier,
		synthesizer: deps.Synthesizer,
		executor:    deps.Executor,
		retriever:   deps.Retriever,
		fuser:       deps.Fuser,
		cfg:         withDefaults(cfg),
	}
}

func withDefaults(cfg config.EngineConfig) config.EngineConfig {
	setDuration := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDuration(&cfg.RequestTimeout, 30*time.Second)
	setDuration(&cfg.ClassifyTimeout, 8*time.Second)
	setDuration(&cfg.SynthesizeTimeout, 12*time.Second)
	setDuration(&cfg.ExecuteTimeout, 6*time.Second)
	setDuration(&cfg.RetrieveTimeout, 8*time.Second)
	setDuration(&cfg.FuseTimeout, 20*time.Second)
	setDuration(&cfg.RetryBackoff, 250*time.Millisecond)
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.ResynthesisAttempts < 0 {
		cfg.ResynthesisAttempts = 0
	}
	return cfg
}

type structuredOutcome struct {
	candidate *text2sql.Candidate
	rows      *models.ResultSet
	err       error
}

type semanticOutcome struct {
	passages []models.Passage
	err      error
}

// Answer runs one request to completion. The returned result is never nil;
// an error accompanies it only for invalid queries or when every attempted
// path failed.
func (e *Engine) Answer(ctx context.Context, query string) (*models.AnswerResult, error) {
	start := time.Now()
	res := &models.AnswerResult{
		RequestID: uuid.New().String(),
		Query:     query,
		Citations: []models.Citation{},
	}
	log := logger.GetLogger().With(zap.String("request_id", res.RequestID))
	enter(res, StateReceived)

	if err := e.validate(query); err != nil {
		return e.finish(res, start, StateFailed, err, log)
	}

	log.Info("Processing query", zap.String("query", utils.Truncate(query, 200)))

	gatherCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	enter(res, StateClassifying)
	classified, degraded := e.classify(gatherCtx, query, log)
	res.Intent = classified
	res.Degraded.Classification = degraded

	plan := newPlan(classified, query, e.cfg.TopK)
	enter(res, stateFor(plan))

	var (
		structured *structuredOutcome
		semantic   *semanticOutcome
	)

	switch p := plan.(type) {
	case StructuredPlan:
		so := e.runStructured(gatherCtx, p, log)
		structured = &so
		if so.err != nil {
			log.Warn("Structured path failed, falling back to semantic",
				zap.String("path", "structured"), zap.Error(so.err))
			enter(res, StateSemantic)
			se := e.runSemantic(gatherCtx, semanticPlan(query, e.cfg.TopK), log)
			semantic = &se
		}
	case SemanticPlan:
		se := e.runSemantic(gatherCtx, p, log)
		semantic = &se
	case HybridPlan:
		so, se := e.runHybrid(gatherCtx, p, log)
		structured, semantic = &so, &se
	}

	in := fusion.Input{Query: query}
	var failures []error
	attempted := 0

	if structured != nil {
		attempted++
		observePath("structured", structured.err)
		if structured.err != nil {
			res.Degraded.Structured = true
			failures = append(failures, structured.err)
		} else {
			in.Rows = structured.rows
			res.SQL = structured.candidate.SQL
			if len(structured.candidate.Tables) > 0 {
				in.Table = structured.candidate.Tables[0]
			}
			metrics.RowsReturned.Observe(float64(len(structured.rows.Rows)))
		}
	}
	if semantic != nil {
		attempted++
		observePath("semantic", semantic.err)
		if semantic.err != nil {
			res.Degraded.Semantic = true
			failures = append(failures, semantic.err)
			if structured == nil || structured.err == nil {
				log.Warn("Semantic path failed, continuing without passages",
					zap.String("path", "semantic"), zap.Error(semantic.err))
			}
		} else {
			in.Passages = semantic.passages
			metrics.PassagesRetrieved.Observe(float64(len(semantic.passages)))
		}
	}

	res.Route = route(plan, structured)
	in.Intent = res.Route

	if len(failures) == attempted {
		res.Text = fusion.InsufficientDataAnswer
		res.Insufficient = true
		err := fmt.Errorf("%w: %w", models.ErrAllPathsFailed, errors.Join(failures...))
		return e.finish(res, start, StateFailed, err, log)
	}

	enter(res, StateFusing)
	out := e.fuse(ctx, in, res, log)

	res.Text = out.Text
	res.Insufficient = out.Insufficient
	if out.Citations != nil {
		res.Citations = out.Citations
	}

	return e.finish(res, start, StateCompleted, nil, log)
}

func (e *Engine) validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return models.ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(trimmed); n > e.cfg.MaxQueryLength {
		return fmt.Errorf("%w: %d characters, limit %d", models.ErrQueryTooLong, n, e.cfg.MaxQueryLength)
	}
	return nil
}

// classify retries once, then widens to hybrid.
func (e *Engine) classify(ctx context.Context, query string, log *zap.Logger) (models.Intent, bool) {
	cfg := retry.Once(e.cfg.RetryBackoff, models.ErrClassificationUnavailable)
	cfg.Name = "classify"
	cfg.Logger = log

	result, err := retry.DoWithResult(ctx, cfg, func() (*intent.Result, error) {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
		defer cancel()
		return e.classifier.Classify(stepCtx, query)
	})
	if err != nil {
		log.Warn("Classification unavailable, defaulting to hybrid",
			zap.String("path", "classification"), zap.Error(err))
		return models.IntentHybrid, true
	}

	metrics.ClassificationConfidence.Observe(result.Confidence)
	log.Debug("Query classified",
		zap.String("intent", string(result.Intent)),
		zap.Float64("confidence", result.Confidence),
		zap.String("source", string(result.Source)),
	)
	return result.Intent, false
}

// runStructured synthesizes and executes, regenerating the query with the
// store's error message after an execution failure.
func (e *Engine) runStructured(ctx context.Context, p StructuredPlan, log *zap.Logger) structuredOutcome {
	candidate, err := e.synthesize(ctx, p.Question, nil)
	if err != nil {
		return structuredOutcome{err: err}
	}

	rows, err := e.execute(ctx, candidate, log)
	for i := 0; i < e.cfg.ResynthesisAttempts && errors.Is(err, models.ErrExecutionError) && ctx.Err() == nil; i++ {
		metrics.Resyntheses.Inc()
		log.Warn("Structured query failed, resynthesizing",
			zap.String("sql", candidate.SQL), zap.Error(err))

		next, serr := e.synthesize(ctx, p.Question, &text2sql.Feedback{SQL: candidate.SQL, Error: err.Error()})
		if serr != nil {
			err = serr
			break
		}
		candidate = next
		rows, err = e.execute(ctx, candidate, log)
	}
	if err != nil {
		return structuredOutcome{candidate: candidate, err: pathError(ctx, models.ErrExecutionError, err)}
	}

	return structuredOutcome{candidate: candidate, rows: rows}
}

func (e *Engine) synthesize(ctx context.Context, question string, feedback *text2sql.Feedback) (*text2sql.Candidate, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.SynthesizeTimeout)
	defer cancel()

	candidate, err := e.synthesizer.Synthesize(stepCtx, question, feedback)
	if err != nil {
		return nil, pathError(ctx, models.ErrSynthesisFailed, err)
	}
	return candidate, nil
}

func (e *Engine) execute(ctx context.Context, candidate *text2sql.Candidate, log *zap.Logger) (*models.ResultSet, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecuteTimeout)
	defer cancel()

	rows, err := e.executor.Execute(stepCtx, candidate)

	var rejection *text2sql.RejectionError
	if errors.As(err, &rejection) {
		metrics.UnsafeQueries.WithLabelValues(string(rejection.Reason)).Inc()
		log.Warn("Generated query rejected",
			zap.String("path", "structured"),
			zap.String("reason", string(rejection.Reason)),
			zap.String("detail", rejection.Detail),
		)
	}
	return rows, err
}

// runSemantic retries retrieval once.
func (e *Engine) runSemantic(ctx context.Context, p SemanticPlan, log *zap.Logger) semanticOutcome {
	cfg := retry.Once(e.cfg.RetryBackoff, models.ErrRetrievalUnavailable)
	cfg.Name = "retrieve"
	cfg.Logger = log

	passages, err := retry.DoWithResult(ctx, cfg, func() ([]models.Passage, error) {
		stepCtx, cancel := context.WithTimeout(ctx, e.cfg.RetrieveTimeout)
		defer cancel()
		return e.retriever.Retrieve(stepCtx, p.Request)
	})
	if err != nil {
		return semanticOutcome{err: pathError(ctx, models.ErrRetrievalUnavailable, err)}
	}
	return semanticOutcome{passages: passages}
}

// runHybrid runs both paths concurrently and returns when both have resolved
// or ctx is done, whichever comes first. A path still running at the deadline
// is reported as timed out.
func (e *Engine) runHybrid(ctx context.Context, p HybridPlan, log *zap.Logger) (structuredOutcome, semanticOutcome) {
	structCh := make(chan structuredOutcome, 1)
	semCh := make(chan semanticOutcome, 1)

	go func() { structCh <- e.runStructured(ctx, p.Structured, log) }()
	go func() { semCh <- e.runSemantic(ctx, p.Semantic, log) }()

	var (
		so      structuredOutcome
		se      semanticOutcome
		gotSQL  bool
		gotText bool
	)
	for !gotSQL || !gotText {
		select {
		case so = <-structCh:
			gotSQL = true
		case se = <-semCh:
			gotText = true
		case <-ctx.Done():
			if !gotSQL {
				select {
				case so = <-structCh:
				default:
					so = structuredOutcome{err: fmt.Errorf("%w: %w: structured path unfinished: %w",
						models.ErrExecutionError, models.ErrTimeout, ctx.Err())}
				}
			}
			if !gotText {
				select {
				case se = <-semCh:
				default:
					se = semanticOutcome{err: fmt.Errorf("%w: %w: semantic path unfinished: %w",
						models.ErrRetrievalUnavailable, models.ErrTimeout, ctx.Err())}
				}
			}
			gotSQL, gotText = true, true
		}
	}

	return so, se
}

// fuse synthesizes the answer under its own deadline, falling back to the
// raw context when the oracle is unavailable.
func (e *Engine) fuse(ctx context.Context, in fusion.Input, res *models.AnswerResult, log *zap.Logger) *fusion.Output {
	fuseCtx, cancel := context.WithTimeout(ctx, e.cfg.FuseTimeout)
	defer cancel()

	out, err := e.fuser.Fuse(fuseCtx, in)
	if err != nil {
		res.Degraded.Synthesis = true
		log.Warn("Answer synthesis unavailable, returning raw context",
			zap.String("path", "fusion"), zap.Error(err))
		return e.fuser.Raw(in)
	}
	return out
}

func (e *Engine) finish(res *models.AnswerResult, start time.Time, state State, err error, log *zap.Logger) (*models.AnswerResult, error) {
	enter(res, state)
	res.LatencyMS = time.Since(start).Milliseconds()

	status := string(state)
	switch {
	case models.IsValidation(err):
		status = "rejected"
	case state == StateCompleted && res.Degraded.Any():
		status = "degraded"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()

	if res.Intent != "" {
		metrics.QueryDuration.WithLabelValues(string(res.Intent)).Observe(time.Since(start).Seconds())
	}
	for component, on := range map[string]bool{
		"structured":     res.Degraded.Structured,
		"semantic":       res.Degraded.Semantic,
		"classification": res.Degraded.Classification,
		"synthesis":      res.Degraded.Synthesis,
	} {
		if on {
			metrics.DegradedTotal.WithLabelValues(component).Inc()
		}
	}

	if err != nil {
		res.Err = err.Error()
		log.Warn("Answer failed", zap.String("status", status), zap.Error(err),
			zap.Int64("latency_ms", res.LatencyMS))
		return res, err
	}

	log.Info("Answer completed",
		zap.String("intent", string(res.Intent)),
		zap.String("route", string(res.Route)),
		zap.Int("citations", len(res.Citations)),
		zap.Bool("degraded", res.Degraded.Any()),
		zap.Int64("latency_ms", res.LatencyMS),
	)
	return res, nil
}

func enter(res *models.AnswerResult, s State) {
	res.States = append(res.States, string(s))
}

// route is the path whose data reached fusion.
func route(p Plan, structured *structuredOutcome) models.Intent {
	if _, ok := p.(StructuredPlan); ok && structured != nil && structured.err != nil {
		return models.IntentSemantic
	}
	return p.Intent()
}

// pathError keeps the taxonomy sentinel at the front of the chain and marks
// deadline expiry as a timeout.
func pathError(ctx context.Context, sentinel, err error) error {
	if !hasPathSentinel(err) {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	if !errors.Is(err, models.ErrTimeout) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		err = fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return err
}

var pathSentinels = []error{
	models.ErrSynthesisFailed,
	models.ErrUnsafeQueryRejected,
	models.ErrExecutionError,
	models.ErrRetrievalUnavailable,
}

func hasPathSentinel(err error) bool {
	for _, s := range pathSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func observePath(path string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrUnsafeQueryRejected):
		outcome = "rejected"
	case errors.Is(err, models.ErrTimeout):
		outcome = "timeout"
	default:
		outcome = "failed"
	}
	metrics.PathOutcomes.WithLabelValues(path, outcome).Inc()
}
