package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Assessor runs the full pipeline for one dataset: batch score, rules, triage,
// persistence and event publication. Repo and Bus may be nil.
type Assessor struct {
	Scorer    *scoring.Engine
	Rules     *rules.Engine
	Processor *Processor
	Repo      domain.Repository
	Bus       domain.EventBus
	Namespace string
	Logger    *zap.Logger
}

// Assess scores ds and returns the saved assessment.
func (a *Assessor) Assess(ctx context.Context, ds *domain.Dataset, traceID string) (*domain.Assessment, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}
	start := time.Now()

	scores, err := a.Scorer.ScoreBatch(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("batch scoring failed: %w", err)
	}
	scoringMs := time.Since(start).Milliseconds()

	rulesStart := time.Now()
	var ruleResults map[string][]domain.RuleResult
	rulesLoaded := 0
	if a.Rules != nil {
		rulesLoaded = a.Rules.RulesCount()
		ruleResults, err = a.Rules.EvaluateBatch(ctx, scores)
		if err != nil {
			return nil, fmt.Errorf("rule evaluation failed: %w", err)
		}
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	assessment := a.Processor.Process(ctx, &DecisionInput{
		DatasetID:   ds.ID,
		Fingerprint: ds.Fingerprint,
		TraceID:     traceID,
		Scores:      scores,
		RuleResults: ruleResults,
		RulesLoaded: rulesLoaded,
		StartTime:   start,
		ScoringMs:   scoringMs,
		RulesMs:     rulesMs,
	})

	if a.Repo != nil {
		if err := a.Repo.SaveAssessment(ctx, assessment); err != nil {
			return nil, fmt.Errorf("failed to save assessment: %w", err)
		}
	}

	alerts := assessment.Alerts()
	observability.RecordAlerts(len(alerts))
	a.publish(ctx, logger, assessment, alerts)

	logger.Info("dataset assessed",
		zap.String("dataset_id", ds.ID),
		zap.String("assessment_id", assessment.ID),
		zap.String("trace_id", traceID),
		zap.String("status", assessment.Status),
		zap.Int("actors", len(assessment.Actors)),
		zap.Int("alerts", len(alerts)),
		zap.Int64("duration_ms", assessment.Metadata.TotalMs),
	)

	return assessment, nil
}

// publish emits batch.scored and one alert per alerting actor. Failures are logged.
func (a *Assessor) publish(ctx context.Context, logger *zap.Logger, assessment *domain.Assessment, alerts []domain.ActorResult) {
	if a.Bus == nil {
		return
	}
	ns := a.Namespace
	if ns == "" {
		ns = domain.DefaultNamespace
	}

	if err := bus.PublishJSON(ctx, a.Bus, ns, domain.TopicBatchScored, assessment); err != nil {
		logger.Error("failed to publish batch scored",
			zap.String("assessment_id", assessment.ID),
			zap.Error(err),
		)
	}

	for _, actor := range alerts {
		ev := domain.ActorAlertEvent{
			AssessmentID: assessment.ID,
			DatasetID:    assessment.DatasetID,
			Actor:        actor,
		}
		if err := bus.PublishJSON(ctx, a.Bus, ns, domain.TopicAlert, ev); err != nil {
			logger.Error("failed to publish alert",
				zap.String("assessment_id", assessment.ID),
				zap.String("actor_id", actor.Score.ActorID),
				zap.Error(err),
			)
		}
	}
}
