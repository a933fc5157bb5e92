package triage

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func score(id string, raw, pct float64, cat domain.Category) domain.ScoreResult {
	return domain.ScoreResult{ActorID: id, RawScore: raw, Percentage: pct, Category: cat, Mode: domain.ModeBatchRelative}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor()
	ctx := context.Background()

	t.Run("AllPass", func(t *testing.T) {
		input := &DecisionInput{
			DatasetID:   "ds-001",
			Fingerprint: "fp",
			TraceID:     "trace-001",
			StartTime:   time.Now(),
			Scores: map[string]domain.ScoreResult{
				"APT1": score("APT1", 10, 8.33, domain.CategoryVeryLow),
			},
			RuleResults: map[string][]domain.RuleResult{
				"APT1": {
					{RuleID: "rule-1", Score: 0.1, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
					{RuleID: "rule-2", Score: 0.2, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
				},
			},
			RulesLoaded: 2,
		}

		a := proc.Process(ctx, input)

		if a.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", a.Status)
		}
		if a.DatasetID != "ds-001" || a.Fingerprint != "fp" {
			t.Errorf("unexpected identity: %s %s", a.DatasetID, a.Fingerprint)
		}
		if a.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", a.Metadata.TraceID)
		}
		if a.Metadata.ActorsScored != 1 || a.Metadata.ActorsAlerted != 0 || a.Metadata.RulesEvaluated != 2 {
			t.Errorf("unexpected metadata: %+v", a.Metadata)
		}
		if got := a.Actors[0].RuleScore; got < 0.149 || got > 0.151 {
			t.Errorf("expected rule score 0.15, got %v", got)
		}
	})

	t.Run("CriticalFailure", func(t *testing.T) {
		input := &DecisionInput{
			StartTime: time.Now(),
			Scores: map[string]domain.ScoreResult{
				"APT1": score("APT1", 10, 8.33, domain.CategoryVeryLow),
			},
			RuleResults: map[string][]domain.RuleResult{
				"APT1": {
					{RuleID: "rule-1", Score: 0.1, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
					{RuleID: "rule-2", Score: 0.3, SubRuleRef: domain.RuleOutcomeFail, Weight: 1.0, Reason: "Wide arsenal"},
				},
			},
		}

		a := proc.Process(ctx, input)

		if a.Status != domain.StatusAlert || !a.Actors[0].Alert {
			t.Errorf("expected ALRT for critical failure, got %s", a.Status)
		}
		if len(a.Actors[0].Reasons) != 1 || a.Actors[0].Reasons[0] != "Wide arsenal" {
			t.Errorf("unexpected reasons: %v", a.Actors[0].Reasons)
		}
	})

	t.Run("HighlyCriticalAlertsWithoutRules", func(t *testing.T) {
		input := &DecisionInput{
			StartTime: time.Now(),
			Scores: map[string]domain.ScoreResult{
				"APT1": score("APT1", 20, 91.67, domain.CategoryHighlyCritical),
				"APT2": score("APT2", 10, 8.33, domain.CategoryVeryLow),
			},
		}

		a := proc.Process(ctx, input)

		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT, got %s", a.Status)
		}
		if a.Metadata.ActorsAlerted != 1 {
			t.Errorf("expected 1 alerted actor, got %d", a.Metadata.ActorsAlerted)
		}
		if a.Actors[0].Score.ActorID != "APT1" || !a.Actors[0].Alert {
			t.Errorf("expected APT1 first and alerting, got %+v", a.Actors[0])
		}
		if a.Actors[1].Alert {
			t.Error("APT2 should not alert")
		}
		if len(a.Actors[0].Reasons) == 0 {
			t.Error("expected a reason for the highly critical alert")
		}
	})

	t.Run("ThresholdReached", func(t *testing.T) {
		input := &DecisionInput{
			StartTime: time.Now(),
			Scores: map[string]domain.ScoreResult{
				"APT1": score("APT1", 10, 50, domain.CategoryModerate),
			},
			RuleResults: map[string][]domain.RuleResult{
				"APT1": {
					{RuleID: "rule-1", Score: 1.0, SubRuleRef: domain.RuleOutcomeReview, Weight: 1.0},
					{RuleID: "rule-2", Score: 0.0, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
				},
			},
		}

		a := proc.Process(ctx, input)
		if !a.Actors[0].Alert {
			t.Errorf("expected alert at threshold, rule score %v", a.Actors[0].RuleScore)
		}
	})

	t.Run("ErroredRulesIgnored", func(t *testing.T) {
		input := &DecisionInput{
			StartTime: time.Now(),
			Scores: map[string]domain.ScoreResult{
				"APT1": score("APT1", 10, 50, domain.CategoryModerate),
			},
			RuleResults: map[string][]domain.RuleResult{
				"APT1": {
					{RuleID: "rule-1", SubRuleRef: domain.RuleOutcomeError, Weight: 5.0},
					{RuleID: "rule-2", Score: 0.2, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
				},
			},
		}

		a := proc.Process(ctx, input)
		if a.Actors[0].RuleScore != 0.2 {
			t.Errorf("expected rule score 0.2, got %v", a.Actors[0].RuleScore)
		}
		if a.Actors[0].Alert {
			t.Error("did not expect alert")
		}
	})
}

func TestWeightedAggregation(t *testing.T) {
	proc := NewProcessor()

	results := []domain.RuleResult{
		{Score: 1.0, SubRuleRef: domain.RuleOutcomeReview, Weight: 3.0},
		{Score: 0.0, SubRuleRef: domain.RuleOutcomePass, Weight: 1.0},
	}

	agg := proc.aggregate(results)
	if agg.AggregateScore != 0.75 {
		t.Errorf("expected weighted score 0.75, got %v", agg.AggregateScore)
	}
	if agg.RulesTriggered != 1 || agg.HasCriticalFailure {
		t.Errorf("unexpected aggregate: %+v", agg)
	}

	proc.UseWeightedScoring = false
	agg = proc.aggregate(results)
	if agg.AggregateScore != 0.5 {
		t.Errorf("expected unweighted score 0.5, got %v", agg.AggregateScore)
	}
}

func TestShouldAlert(t *testing.T) {
	if !ShouldAlert(&domain.Assessment{Status: domain.StatusAlert}) {
		t.Error("expected ShouldAlert for ALRT")
	}
	if ShouldAlert(&domain.Assessment{Status: domain.StatusNoAlert}) {
		t.Error("expected no alert for NALT")
	}
}
