package domain

import (
	"time"
)

// Assessment is a persisted triage of one whole-dataset batch score.
type Assessment struct {
	ID          string        `json:"id"`
	DatasetID   string        `json:"datasetId"`
	Fingerprint string        `json:"fingerprint"`
	Status      string        `json:"status"` // "ALRT" or "NALT"
	Timestamp   time.Time     `json:"timestamp"`
	Actors      []ActorResult `json:"actors"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// ActorResult is one actor's score plus its triage outcome.
type ActorResult struct {
	Score       ScoreResult  `json:"score"`
	RuleScore   float64      `json:"ruleScore"`
	Alert       bool         `json:"alert"`
	Reasons     []string     `json:"reasons,omitempty"`
	RuleResults []RuleResult `json:"ruleResults,omitempty"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	ScoringMs      int64  `json:"scoringMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	ActorsScored   int    `json:"actorsScored"`
	ActorsAlerted  int    `json:"actorsAlerted"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // at least one actor alerted
	StatusNoAlert = "NALT"
)

// Alerts returns the alerting actors.
func (a *Assessment) Alerts() []ActorResult {
	var out []ActorResult
	for _, r := range a.Actors {
		if r.Alert {
			out = append(out, r)
		}
	}
	return out
}
