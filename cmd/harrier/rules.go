package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect triage rule packs",
}

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the built-in rules as a YAML pack",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := rules.ExportPack(rules.BuiltinRules())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <pack.yaml>",
	Short: "Compile every rule in a pack",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesExportCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	pack, err := rules.LoadPack(args[0])
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine(cfg.Triage.MaxWorkers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, rule := range pack.Rules {
		if err := engine.ValidateRule(rule); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", rule.ID, err)
			continue
		}
		fmt.Fprintf(out, "ok    %s (%s)\n", rule.ID, enabledLabel(rule))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to compile", failed, len(pack.Rules))
	}
	return nil
}

func enabledLabel(rule *domain.RuleConfig) string {
	if rule.Enabled {
		return "enabled"
	}
	return "disabled"
}
