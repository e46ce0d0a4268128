// Package engine turns product records into verdicts and answers follow-up
// questions about them. Neither path ever returns an error to the caller:
// AI failures degrade to a retry, then to the offline classifier or a fixed
// apology.
package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/franckalain/foodguard/internal/metrics"
	"github.com/franckalain/foodguard/internal/ml"
	"github.com/franckalain/foodguard/internal/models"
)

const tracerName = "github.com/franckalain/foodguard/internal/engine"

// Classifier produces a verdict without the AI backend.
type Classifier interface {
	Classify(record models.ProductRecord, prefs models.PreferenceProfile) models.Verdict
}

// Analyzer runs the verdict state machine:
// select strategy, primary attempt, one degraded retry for search-grounded
// requests, then the fallback classifier.
type Analyzer struct {
	executor ml.Executor
	fallback Classifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewAnalyzer creates an analyzer. A nil executor sends every request
// straight to the fallback classifier; a nil fallback uses ml.LocalClassifier.
func NewAnalyzer(executor ml.Executor, fallback Classifier, m *metrics.Metrics, logger *zap.Logger) *Analyzer {
	if fallback == nil {
		fallback = ml.NewLocalClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		executor: executor,
		fallback: fallback,
		metrics:  m,
		logger:   logger.Named("analyzer"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Analyze returns the record with a verdict attached. Attempts run
// sequentially; at most one AI request is in flight.
func (a *Analyzer) Analyze(ctx context.Context, record models.ProductRecord, prefs models.PreferenceProfile) models.Scan {
	record = record.Normalized()
	prefs = prefs.Normalized()
	strategy := ml.SelectStrategy(record)

	ctx, span := a.tracer.Start(ctx, "Analyzer.Analyze", trace.WithAttributes(
		attribute.String("product.name", record.ProductName),
		attribute.String("strategy", string(strategy)),
	))
	defer span.End()

	log := a.logger.With(zap.String("product", record.ProductName), zap.String("strategy", string(strategy)))

	spec := ml.BuildPrompt(strategy, record, prefs)
	verdict, err := a.attempt(ctx, "primary", spec, record)
	source := models.SourceAIDirect

	if err != nil && strategy == ml.StrategySearchGrounded {
		log.Info("search-grounded attempt failed, retrying without tools",
			zap.String("outcome", ml.Outcome(err)), zap.Error(err))
		verdict, err = a.attempt(ctx, "retry", spec.Degraded(), record)
		source = models.SourceAIRetry
	}

	if err != nil {
		log.Info("AI verdict unavailable, using fallback classifier",
			zap.String("outcome", ml.Outcome(err)), zap.Error(err))
		verdict = a.fallback.Classify(record, prefs)
		source = models.SourceFallback
	}
	verdict.Source = source

	if !verdict.Consistent() {
		log.Warn("NO verdict without harmful ingredients", zap.String("source", string(source)))
	}

	span.SetAttributes(
		attribute.String("verdict.source", string(source)),
		attribute.String("verdict.status", string(verdict.Status)),
		attribute.Int("verdict.health_score", verdict.HealthScore),
	)
	a.metrics.RecordVerdict(string(source), string(strategy))
	log.Debug("verdict ready",
		zap.String("status", string(verdict.Status)),
		zap.String("source", string(source)),
		zap.Int("health_score", verdict.HealthScore))

	return models.Scan{ProductRecord: record, Verdict: verdict, Strategy: string(strategy)}
}

// attempt is one execute-and-parse round.
func (a *Analyzer) attempt(ctx context.Context, name string, spec ml.PromptSpec, record models.ProductRecord) (models.Verdict, error) {
	ctx, span := a.tracer.Start(ctx, "Analyzer.attempt", trace.WithAttributes(
		attribute.String("attempt", name),
		attribute.Bool("use_tools", spec.UseTools),
	))
	defer span.End()

	if a.executor == nil {
		span.RecordError(ml.ErrMissingAPIKey)
		return models.Verdict{}, ml.ErrMissingAPIKey
	}

	raw, err := a.executor.Execute(ctx, spec)
	if err == nil {
		var v models.Verdict
		if v, err = ml.ParseVerdict(raw, record); err == nil {
			return v, nil
		}
	}

	span.RecordError(err)
	span.SetAttributes(attribute.String("outcome", ml.Outcome(err)))
	return models.Verdict{}, err
}
