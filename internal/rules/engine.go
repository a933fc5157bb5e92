// Package rules provides the CEL-Go based triage rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine is the CEL-based triage rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Variables describe one scored actor
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("technique_count", cel.IntType),
		cel.Variable("platform_count", cel.DoubleType),
		cel.Variable("tactic_weight", cel.DoubleType),
		cel.Variable("region_weight", cel.DoubleType),
		cel.Variable("cvss_score", cel.DoubleType),
		cel.Variable("impact_count", cel.DoubleType),
		cel.Variable("ioc_weight", cel.DoubleType),
		cel.Variable("elapsed_years", cel.DoubleType),
		cel.Variable("complexity", cel.DoubleType),
		cel.Variable("prevalence", cel.DoubleType),
		cel.Variable("raw_score", cel.DoubleType),
		cel.Variable("percentage", cel.DoubleType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Activation builds the CEL variables for one scored actor.
func Activation(r domain.ScoreResult) map[string]any {
	vars := map[string]any{
		"actor_id":        r.ActorID,
		"technique_count": int64(r.Inputs.TechniqueCount),
		"platform_count":  r.Inputs.PlatformCount,
		"tactic_weight":   r.Inputs.TacticWeight,
		"region_weight":   r.Inputs.RegionWeight,
		"cvss_score":      r.Inputs.CVSSScore,
		"impact_count":    r.Inputs.ImpactCount,
		"ioc_weight":      r.Inputs.IoCWeight,
		"elapsed_years":   r.Inputs.ElapsedYears,
		"complexity":      r.Complexity,
		"prevalence":      r.Prevalence,
		"raw_score":       r.RawScore,
		"percentage":      r.Percentage,
		"category":        string(r.Category),
	}
	actor := make(map[string]any, len(vars))
	for k, v := range vars {
		actor[k] = v
	}
	vars["actor"] = actor
	return vars
}

// EvaluateAll evaluates all loaded rules against one actor in parallel.
// Results are ordered by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, score domain.ScoreResult) ([]domain.RuleResult, error) {
	rules := e.snapshot()
	if len(rules) == 0 {
		return nil, nil
	}

	activation := Activation(score)

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation, score.ActorID)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateBatch evaluates all loaded rules against every actor of a batch.
func (e *Engine) EvaluateBatch(ctx context.Context, scores map[string]domain.ScoreResult) (map[string][]domain.RuleResult, error) {
	out := make(map[string][]domain.RuleResult, len(scores))
	for id, score := range scores {
		results, err := e.EvaluateAll(ctx, score)
		if err != nil {
			return nil, err
		}
		out[id] = results
	}
	return out, nil
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, actorID string) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:  rule.Config.ID,
		ActorID: actorID,
		Weight:  rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	score := toScore(out)
	result.Score = score

	result.SubRuleRef, result.Reason = matchBand(score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score.
// Bands are evaluated in order: lower inclusive, upper exclusive, a nil upper
// is unbounded.
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && score < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && score >= *band.UpperLimit {
			continue
		}
		return band.SubRuleRef, band.Reason
	}

	// Default to pass if no band matches
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// Nothing changes if any rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations, ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.snapshot()
	out := make([]*domain.RuleConfig, len(rules))
	for i, compiled := range rules {
		out[i] = compiled.Config
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
