package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func scoredActor() domain.ScoreResult {
	return domain.ScoreResult{
		ActorID:    "APT28",
		Complexity: 40,
		Prevalence: 30,
		RawScore:   1200,
		Percentage: 85.5,
		Category:   domain.CategoryHighlyCritical,
		Mode:       domain.ModeBatchRelative,
		Inputs: domain.ResolvedInputs{
			TechniqueCount: 25,
			PlatformCount:  3,
			TacticWeight:   12,
			RegionWeight:   4,
			CVSSScore:      9.3,
			ImpactCount:    5,
			IoCWeight:      2,
			ElapsedYears:   6,
		},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "cvss_score > 7.0",
		Bands:      []domain.RuleBand{},
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule *domain.RuleConfig
	}{
		{"Syntax", &domain.RuleConfig{ID: "invalid", Expression: "this is not valid CEL !!!", Enabled: true}},
		{"UnknownVariable", &domain.RuleConfig{ID: "unknown-var", Expression: "amount > 100.0", Enabled: true}},
		{"StringOutput", &domain.RuleConfig{ID: "string-out", Expression: "category", Enabled: true}},
		{"MissingID", &domain.RuleConfig{Expression: "cvss_score > 1.0", Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.LoadRule(tt.rule); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEvaluateBandedRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	zero := 0.0
	one := 1.0

	rule := &domain.RuleConfig{
		ID:         "cvss-check",
		Name:       "CVSS Check",
		Expression: "cvss_score >= 9.0 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "Moderate CVSS"},
			{LowerLimit: &one, UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "Critical CVSS"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	engine.LoadRule(rule)

	ctx := context.Background()
	actor := scoredActor()

	results, err := engine.EvaluateAll(ctx, actor)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 1.0 || results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected FAIL with score 1.0, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}
	if results[0].Reason != "Critical CVSS" {
		t.Errorf("expected reason 'Critical CVSS', got %q", results[0].Reason)
	}

	actor.Inputs.CVSSScore = 6.1
	results, _ = engine.EvaluateAll(ctx, actor)
	if results[0].Score != 0.0 || results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected PASS with score 0.0, got %s %.2f", results[0].SubRuleRef, results[0].Score)
	}
}

func TestEvaluateVariables(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	expressions := map[string]string{
		"actor-id":   `actor_id == "APT28"`,
		"techniques": "technique_count == 25",
		"platforms":  "platform_count == 3.0",
		"tactic":     "tactic_weight == 12.0",
		"region":     "region_weight == 4.0",
		"impact":     "impact_count == 5.0",
		"ioc":        "ioc_weight == 2.0",
		"years":      "elapsed_years == 6.0",
		"complexity": "complexity == 40.0",
		"prevalence": "prevalence == 30.0",
		"raw":        "raw_score == 1200.0",
		"percentage": "percentage > 85.0",
		"category":   `category == "Highly Critical"`,
		"actor-map":  `actor["cvss_score"] > 9.0`,
	}
	for id, expr := range expressions {
		if err := engine.LoadRule(&domain.RuleConfig{ID: id, Expression: expr, Enabled: true}); err != nil {
			t.Fatalf("failed to load %s: %v", id, err)
		}
	}

	results, err := engine.EvaluateAll(context.Background(), scoredActor())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for _, r := range results {
		if r.Score != 1.0 {
			t.Errorf("rule %s: expected true, got %.2f (%s)", r.RuleID, r.Score, r.Reason)
		}
		if r.ActorID != "APT28" {
			t.Errorf("rule %s: expected actor APT28, got %s", r.RuleID, r.ActorID)
		}
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Name:       fmt.Sprintf("Rule %d", i),
			Expression: "raw_score > 0.0",
			Weight:     1.0,
			Enabled:    true,
		}
		engine.LoadRule(rule)
	}

	results, err := engine.EvaluateAll(context.Background(), scoredActor())
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}

	for i, r := range results {
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
		if want := fmt.Sprintf("rule-%02d", i); r.RuleID != want {
			t.Errorf("expected results ordered by id, got %s at %d", r.RuleID, i)
		}
	}
}

func TestEvaluateBatch(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	engine.LoadRule(&domain.RuleConfig{ID: "hc", Expression: `category == "Highly Critical"`, Enabled: true})

	low := scoredActor()
	low.ActorID = "APT-LOW"
	low.Category = domain.CategoryLow

	out, err := engine.EvaluateBatch(context.Background(), map[string]domain.ScoreResult{
		"APT28":   scoredActor(),
		"APT-LOW": low,
	})
	if err != nil {
		t.Fatalf("batch evaluation failed: %v", err)
	}
	if out["APT28"][0].Score != 1.0 || out["APT-LOW"][0].Score != 0.0 {
		t.Errorf("unexpected batch results: %+v", out)
	}
}

func TestEvaluateCanceled(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()
	engine.LoadRule(&domain.RuleConfig{ID: "r", Expression: "true", Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.EvaluateAll(ctx, scoredActor()); err == nil {
		t.Error("expected context error")
	}
}

func TestMatchBand(t *testing.T) {
	zero, half, one := 0.0, 0.5, 1.0
	bands := []domain.RuleBand{
		{LowerLimit: &zero, UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "low"},
		{LowerLimit: &half, UpperLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "mid"},
		{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "high"},
	}

	tests := []struct {
		score float64
		want  string
	}{
		{0, domain.RuleOutcomePass},
		{0.49, domain.RuleOutcomePass},
		{0.5, domain.RuleOutcomeReview},
		{0.99, domain.RuleOutcomeReview},
		{1, domain.RuleOutcomeFail},
		{42, domain.RuleOutcomeFail},
		{-1, domain.RuleOutcomePass}, // no band matches
	}
	for _, tt := range tests {
		if got, _ := matchBand(tt.score, bands); got != tt.want {
			t.Errorf("matchBand(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "true", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "new-1", Expression: "cvss_score > 1.0", Enabled: true},
		{ID: "new-2", Expression: "cvss_score > 2.0", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "new-1" {
		t.Errorf("expected only new-1 loaded, got %+v", loaded)
	}

	// A bad rule leaves the loaded set untouched
	err = engine.ReloadRules([]*domain.RuleConfig{{ID: "bad", Expression: "nope(", Enabled: true}})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected previous rules kept, got %d", engine.RulesCount())
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.ValidateRule(&domain.RuleConfig{ID: "v", Expression: "percentage > 50.0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule should not load the rule")
	}
	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestBuiltinRulesCompile(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("builtin rules failed to load: %v", err)
	}
	results, err := engine.EvaluateAll(context.Background(), scoredActor())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			t.Errorf("rule %s errored: %s", r.RuleID, r.Reason)
		}
	}
}
