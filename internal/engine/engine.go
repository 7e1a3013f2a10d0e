// Package engine runs one threat analysis end to end: collect from every
// source, normalize, filter, deduplicate, retain, rank and annotate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/analyst"
	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/ranking"
	"github.com/lvonguyen/threatlens/internal/sources"
)

const (
	minQueryLen = 3
	maxQueryLen = 100
)

// ErrInvalidQuery is returned when the product name is too short or too long
// after whitespace normalization.
var ErrInvalidQuery = errors.New("product name must be 3-100 characters")

var tracer = otel.Tracer("github.com/lvonguyen/threatlens/internal/engine")

// Collector gathers raw items for a query.
type Collector interface {
	Collect(ctx context.Context, query string) sources.BatchReport
}

// StageCounts is how many records survived each pipeline stage.
type StageCounts struct {
	Collected  int `json:"collected"`
	Normalized int `json:"normalized"`
	Relevant   int `json:"relevant"`
	Deduped    int `json:"deduped"`
	Retained   int `json:"retained"`
	Ranked     int `json:"ranked"`
}

// Report is the result of one analysis.
type Report struct {
	Query       string               `json:"query"`
	GeneratedAt time.Time            `json:"generated_at"`
	Duration    time.Duration        `json:"duration"`
	Threats     []analyst.Assessment `json:"threats"`
	Summary     analyst.Summary      `json:"summary"`
	Stats       ranking.FusionStats  `json:"stats"`
	Stages      StageCounts          `json:"stages"`
	Sources     []sources.Result     `json:"sources"`
}

// Engine is safe for concurrent use; every request gets its own working set.
type Engine struct {
	collector  Collector
	normalizer *sources.Normalizer
	relevance  *ranking.RelevanceScorer
	dedup      *ranking.Deduplicator
	retention  *ranking.RetentionSelector
	ranker     *ranking.Ranker
	enhancer   *analyst.Enhancer
	attack     *mitre.AttackFramework
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Weights ranking.Weights
	Rules   analyst.Rules
	Attack  *mitre.AttackFramework
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// New builds an engine around a collector.
func New(collector Collector, opts Options) (*Engine, error) {
	if collector == nil {
		return nil, errors.New("engine: collector is required")
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rules.MaxPriorities <= 0 {
		opts.Rules.MaxPriorities = analyst.DefaultRules().MaxPriorities
	}

	return &Engine{
		collector:  collector,
		normalizer: sources.NewNormalizer(),
		relevance:  ranking.NewRelevanceScorer(opts.Weights),
		dedup:      ranking.NewDeduplicator(opts.Weights),
		retention:  ranking.NewRetentionSelector(opts.Weights),
		ranker:     ranking.NewRanker(opts.Weights, opts.Now),
		enhancer:   analyst.NewEnhancer(opts.Rules, opts.Attack),
		attack:     opts.Attack,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}, nil
}

// Attack returns the ATT&CK catalog used for technique mapping, or nil.
func (e *Engine) Attack() *mitre.AttackFramework {
	return e.attack
}

// NormalizeProduct collapses whitespace and checks the length bounds.
func NormalizeProduct(product string) (string, error) {
	q := strings.Join(strings.Fields(product), " ")
	if n := utf8.RuneCountInString(q); n < minQueryLen || n > maxQueryLen {
		return "", fmt.Errorf("%w: got %d characters", ErrInvalidQuery, n)
	}
	return q, nil
}

// Analyze runs the full pipeline for one product. Source failures never
// fail the analysis; the only error is ErrInvalidQuery.
func (e *Engine) Analyze(ctx context.Context, product string) (*Report, error) {
	start := e.now()

	query, err := NormalizeProduct(product)
	if err != nil {
		e.metrics.ObserveAnalysis("invalid", 0)
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	batch := e.collector.Collect(ctx, query)
	items := batch.Items()

	records := e.normalizer.Normalize(items)
	relevant := e.relevance.Filter(records, query)
	deduped := e.dedup.Dedup(relevant)
	retained := e.retention.Select(deduped)
	ranked, stats := e.ranker.Rank(ctx, retained, query)

	assessments := e.enhancer.Enhance(ranked)
	summary := e.enhancer.Summarize(assessments)

	stages := StageCounts{
		Collected:  len(items),
		Normalized: len(records),
		Relevant:   len(relevant),
		Deduped:    len(deduped),
		Retained:   len(retained),
		Ranked:     len(ranked),
	}
	e.observe(stages, assessments)

	elapsed := e.now().Sub(start)
	outcome := "ok"
	if len(assessments) == 0 {
		outcome = "empty"
	}
	e.metrics.ObserveAnalysis(outcome, elapsed)

	failed := batch.Failed()
	span.SetAttributes(
		attribute.Int("sources.succeeded", batch.Succeeded()),
		attribute.Int("sources.failed", len(failed)),
		attribute.Int("threats", len(assessments)),
	)
	if batch.Succeeded() == 0 && len(failed) > 0 {
		span.SetStatus(codes.Error, "all sources failed")
	}

	e.logger.Info("Analysis complete",
		zap.String("query", query),
		zap.Int("collected", stages.Collected),
		zap.Int("relevant", stages.Relevant),
		zap.Int("retained", stages.Retained),
		zap.Int("threats", len(assessments)),
		zap.Int("failed_sources", len(failed)),
		zap.Duration("duration", elapsed),
	)

	return &Report{
		Query:       query,
		GeneratedAt: start.UTC(),
		Duration:    elapsed,
		Threats:     assessments,
		Summary:     summary,
		Stats:       stats,
		Stages:      stages,
		Sources:     batch.Results,
	}, nil
}

func (e *Engine) observe(s StageCounts, assessments []analyst.Assessment) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveStage(observability.StageCollected, s.Collected)
	e.metrics.ObserveStage(observability.StageNormalized, s.Normalized)
	e.metrics.ObserveStage(observability.StageRelevant, s.Relevant)
	e.metrics.ObserveStage(observability.StageDeduped, s.Deduped)
	e.metrics.ObserveStage(observability.StageRetained, s.Retained)
	e.metrics.ObserveStage(observability.StageRanked, s.Ranked)
	for _, a := range assessments {
		e.metrics.ObserveTechniques(mitre.TechniqueIDs(a.AttackTechniques))
	}
}
