package rules

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePack = `
version: "1"
rules:
  - id: long-running
    name: Long-running campaign
    expression: "elapsed_years >= 10.0"
    weight: 0.5
    enabled: true
    bands:
      - upperLimit: 1
        subRuleRef: .pass
        reason: Recent activity
      - lowerLimit: 1
        subRuleRef: .review
        reason: Decade-long campaign
  - id: many-platforms
    expression: "platform_count >= 5.0"
    enabled: false
`

func TestParsePack(t *testing.T) {
	pack, err := ParsePack([]byte(samplePack))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(pack.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(pack.Rules))
	}

	r := pack.Rules[0]
	if r.ID != "long-running" || r.Weight != 0.5 || !r.Enabled {
		t.Errorf("unexpected rule: %+v", r)
	}
	if len(r.Bands) != 2 || r.Bands[0].UpperLimit == nil || *r.Bands[0].UpperLimit != 1 || r.Bands[0].LowerLimit != nil {
		t.Errorf("unexpected bands: %+v", r.Bands)
	}

	engine, _ := NewEngine(2)
	defer engine.Close()
	if err := engine.LoadRules(pack.Rules); err != nil {
		t.Fatalf("pack rules failed to compile: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected only enabled rules loaded, got %d", engine.RulesCount())
	}
}

func TestParsePackErrors(t *testing.T) {
	tests := map[string]string{
		"Malformed":   "rules: [",
		"MissingID":   "rules:\n  - expression: \"true\"\n",
		"DuplicateID": "rules:\n  - id: a\n    expression: \"true\"\n  - id: a\n    expression: \"false\"\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePack([]byte(in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadAndExportPack(t *testing.T) {
	data, err := ExportPack(BuiltinRules())
	if err != nil {
		t.Fatalf("failed to export: %v", err)
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	pack, err := LoadPack(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(pack.Rules) != len(BuiltinRules()) {
		t.Errorf("expected %d rules, got %d", len(BuiltinRules()), len(pack.Rules))
	}

	if _, err := LoadPack(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestShippedPackCompiles(t *testing.T) {
	pack, err := LoadPack(filepath.Join("..", "..", "configs", "rules.yaml"))
	if err != nil {
		t.Fatalf("LoadPack failed: %v", err)
	}

	engine, err := NewEngine(2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	for _, r := range pack.Rules {
		if err := engine.ValidateRule(r); err != nil {
			t.Errorf("rule %s: %v", r.ID, err)
		}
	}
}
