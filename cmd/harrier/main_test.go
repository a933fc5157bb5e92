package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/triage"
)

// Raw scores 10 and 20.
const cliCSV = `apt,technique-id,tactic-id,tactic-weight,platform-count,region,region-weight,cvss-base-score,impact-score,ioc-weight,time,vulnerability-score
APT-A,T1,TA0001,0,1,EU,0,5,0,0,1,5
APT-B,T1,TA0001,0,1,EU,0,10,0,0,1,5
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threats.csv")
	if err := os.WriteFile(path, []byte(cliCSV), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	path := writeCSV(t)

	out, err := execute(t, "score", path, "--format", "json", "--actor", "")
	if err != nil {
		t.Fatalf("score failed: %v\n%s", err, out)
	}

	var results []domain.ScoreResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(results) != 2 || results[0].ActorID != "APT-B" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Percentage != 91.67 || results[1].Percentage != 8.33 {
		t.Errorf("expected 91.67/8.33, got %v/%v", results[0].Percentage, results[1].Percentage)
	}
}

func TestScoreCommandTable(t *testing.T) {
	path := writeCSV(t)

	out, err := execute(t, "score", path, "--format", "table", "--actor", "APT-A")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if !strings.Contains(out, "CATEGORY") || !strings.Contains(out, "APT-A") || strings.Contains(out, "APT-B") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestManualCommandMissingFields(t *testing.T) {
	_, err := execute(t, "manual", "--techniques", "3", "--format", "json")
	if err == nil {
		t.Fatal("expected missing field error")
	}
	if !strings.Contains(err.Error(), domain.FieldPlatformCount) {
		t.Errorf("expected platform_count in %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "harrier dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestLoadRulesSeedsBuiltins(t *testing.T) {
	logger = zap.NewNop()
	ctx := context.Background()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	engine, err := rules.NewEngine(2)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if err := loadRules(ctx, repo, engine, ""); err != nil {
		t.Fatalf("loadRules: %v", err)
	}
	if engine.RulesCount() != len(rules.BuiltinRules()) {
		t.Errorf("expected %d rules, got %d", len(rules.BuiltinRules()), engine.RulesCount())
	}

	stored, _ := repo.ListRuleConfigs(ctx)
	if len(stored) != len(rules.BuiltinRules()) {
		t.Errorf("expected builtins stored, got %d", len(stored))
	}

	// A second start reads the store instead of reseeding.
	fresh, _ := rules.NewEngine(2)
	if err := loadRules(ctx, repo, fresh, "does-not-exist.yaml"); err != nil {
		t.Fatalf("expected stored rules to win over pack path: %v", err)
	}
}

func TestBenchCommand(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "bench.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	scorer := scoring.NewEngine(domain.ScoringConfig{MaxWorkers: 2}, nil, nil)
	engine, _ := rules.NewEngine(2)
	srv := api.NewServer(domain.DefaultConfig(), api.Dependencies{
		Repo:   repo,
		Scorer: scorer,
		Rules:  engine,
		Assessor: &triage.Assessor{
			Scorer:    scorer,
			Rules:     engine,
			Processor: triage.NewProcessor(),
			Repo:      repo,
		},
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	path := writeCSV(t)
	out, err := execute(t, "bench", path, "--url", ts.URL, "--requests", "20", "--workers", "4")
	if err != nil {
		t.Fatalf("bench failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Total Processed:  20", "Errors:           0", "Status:           ALRT"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRulesExportAndCheck(t *testing.T) {
	out, err := execute(t, "rules", "export")
	if err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "critical-cvss") {
		t.Fatalf("export missing built-in rule:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "rules", "check", path)
	if err != nil {
		t.Fatalf("check failed: %v\n%s", err, out)
	}
	if got := strings.Count(out, "ok    "); got != len(rules.BuiltinRules()) {
		t.Errorf("expected %d compiled rules, got %d:\n%s", len(rules.BuiltinRules()), got, out)
	}
}

func TestRulesCheckRejectsBadExpression(t *testing.T) {
	pack := `version: "1"
rules:
  - id: broken
    name: Broken
    version: "1"
    expression: "cvss_score >"
    weight: 1
    enabled: true
`
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "rules", "check", path)
	if err == nil {
		t.Fatalf("expected compile failure, got:\n%s", out)
	}
	if !strings.Contains(out, "FAIL  broken") {
		t.Errorf("expected failure line, got:\n%s", out)
	}
}
