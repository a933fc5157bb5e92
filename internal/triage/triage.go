// Package triage turns a scored batch and its rule results into an Assessment.
package triage

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "harrier-1.0"

// Processor aggregates rule results per actor and decides which actors alert.
type Processor struct {
	// Weighted rule score at or above which an actor alerts
	AlertThreshold float64

	// Weight configuration for rule aggregation
	UseWeightedScoring bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		AlertThreshold:     0.5,
		UseWeightedScoring: true,
	}
}

// DecisionInput contains all data needed for an assessment.
type DecisionInput struct {
	DatasetID   string
	Fingerprint string
	TraceID     string
	Scores      map[string]domain.ScoreResult
	RuleResults map[string][]domain.RuleResult
	RulesLoaded int
	StartTime   time.Time
	ScoringMs   int64
	RulesMs     int64
}

// Process builds the assessment. Actors are ordered by raw score, highest first.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Assessment {
	a := &domain.Assessment{
		ID:          uuid.New().String(),
		DatasetID:   input.DatasetID,
		Fingerprint: input.Fingerprint,
		Status:      domain.StatusNoAlert,
		Timestamp:   time.Now().UTC(),
		Actors:      make([]domain.ActorResult, 0, len(input.Scores)),
	}

	alerted := 0
	for id, score := range input.Scores {
		ar := p.decide(score, input.RuleResults[id])
		if ar.Alert {
			alerted++
		}
		a.Actors = append(a.Actors, ar)
	}
	sort.Slice(a.Actors, func(i, j int) bool {
		si, sj := a.Actors[i].Score, a.Actors[j].Score
		if si.RawScore != sj.RawScore {
			return si.RawScore > sj.RawScore
		}
		return si.ActorID < sj.ActorID
	})

	if alerted > 0 {
		a.Status = domain.StatusAlert
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		ScoringMs:      input.ScoringMs,
		RulesMs:        input.RulesMs,
		TotalMs:        time.Since(input.StartTime).Milliseconds(),
		ActorsScored:   len(input.Scores),
		ActorsAlerted:  alerted,
		RulesEvaluated: input.RulesLoaded,
		EngineVersion:  EngineVersion,
	}

	return a
}

// decide aggregates one actor's rule results.
func (p *Processor) decide(score domain.ScoreResult, results []domain.RuleResult) domain.ActorResult {
	agg := p.aggregate(results)

	ar := domain.ActorResult{
		Score:       score,
		RuleScore:   agg.AggregateScore,
		RuleResults: results,
		Reasons:     reasons(results),
	}

	if score.Category == domain.CategoryHighlyCritical {
		ar.Alert = true
		ar.Reasons = append([]string{"Highly Critical threat score"}, ar.Reasons...)
	}
	if agg.HasCriticalFailure {
		ar.Alert = true
	}
	if len(results) > 0 && agg.AggregateScore >= p.AlertThreshold {
		ar.Alert = true
	}

	return ar
}

// AggregateResult holds the aggregated scoring results.
type AggregateResult struct {
	AggregateScore     float64
	TotalWeight        float64
	RulesTriggered     int
	HasCriticalFailure bool
}

// aggregate computes the weighted aggregate score from rule results.
// Errored rules carry no score and are left out.
func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			continue
		}

		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			agg.HasCriticalFailure = true
			agg.RulesTriggered++
		case domain.RuleOutcomeReview:
			agg.RulesTriggered++
		}

		if p.UseWeightedScoring {
			agg.AggregateScore += r.Score * weight
			agg.TotalWeight += weight
		} else {
			agg.AggregateScore += r.Score
			agg.TotalWeight += 1.0
		}
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore = agg.AggregateScore / agg.TotalWeight
	}

	return agg
}

// reasons extracts human-readable reasons from failing or review outcomes.
func reasons(results []domain.RuleResult) []string {
	var out []string
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeFail || r.SubRuleRef == domain.RuleOutcomeReview {
			if r.Reason != "" {
				out = append(out, r.Reason)
			}
		}
	}
	return out
}

// ShouldAlert returns true if any actor in the assessment alerted.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Status == domain.StatusAlert
}
