package domain

// RuleConfig defines a triage rule over a scored actor.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression" yaml:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []RuleBand `json:"bands" yaml:"bands"`

	// Rule weight in the alert score
	Weight float64 `json:"weight" yaml:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty" yaml:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty" yaml:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef" yaml:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason" yaml:"reason"`
}

// RuleResult is the output of one rule over one actor.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	ActorID    string  `json:"actorId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".fail", ".review", ".err"
	Score      float64 `json:"score"`      // The computed value
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)
