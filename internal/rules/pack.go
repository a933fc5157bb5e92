package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Pack is a YAML file of triage rules.
type Pack struct {
	Version string               `yaml:"version"`
	Rules   []*domain.RuleConfig `yaml:"rules"`
}

// ParsePack parses a rule pack and checks that rule IDs are unique.
func ParsePack(data []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parsing rule pack YAML: %w", err)
	}

	seen := make(map[string]bool, len(pack.Rules))
	for _, r := range pack.Rules {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("rule pack contains a rule without id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule pack contains duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
	}
	return &pack, nil
}

// LoadPack reads a rule pack from disk.
func LoadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule pack: %w", err)
	}
	return ParsePack(data)
}

// ExportPack renders rules as a rule pack.
func ExportPack(rules []*domain.RuleConfig) ([]byte, error) {
	return yaml.Marshal(&Pack{Version: "1", Rules: rules})
}

// BuiltinRules returns the triage rules used when neither the repository nor a
// rule pack provides any.
func BuiltinRules() []*domain.RuleConfig {
	zero := 0.0
	one := 1.0
	half := 0.5

	return []*domain.RuleConfig{
		{
			ID:          "critical-cvss",
			Name:        "Critical CVSS",
			Description: "Actor exploits vulnerabilities rated critical on average",
			Version:     "1.0.0",
			Expression:  "cvss_score >= 9.0",
			Bands: []domain.RuleBand{
				{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "CVSS below critical"},
				{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "Critical CVSS exploitation"},
			},
			Weight:  0.6,
			Enabled: true,
		},
		{
			ID:          "broad-arsenal",
			Name:        "Broad Technique Arsenal",
			Description: "Actor uses many distinct ATT&CK techniques",
			Version:     "1.0.0",
			Expression:  "technique_count >= 50 ? 1.0 : (technique_count >= 20 ? 0.5 : 0.0)",
			Bands: []domain.RuleBand{
				{LowerLimit: &zero, UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "Narrow technique set"},
				{LowerLimit: &half, UpperLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "Wide technique set"},
				{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeFail, Reason: "Very wide technique set"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "batch-outlier",
			Name:        "Batch Outlier",
			Description: "Actor sits in the top band of its batch",
			Version:     "1.0.0",
			Expression:  "percentage / 100.0",
			Bands: []domain.RuleBand{
				{UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "Within batch norms"},
				{LowerLimit: &half, SubRuleRef: domain.RuleOutcomeReview, Reason: "Upper half of batch"},
			},
			Weight:  1.0,
			Enabled: true,
		},
	}
}
