package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/projection"
	"github.com/opensource-finance/harrier/internal/scoring"
)

var (
	outputFormat string
	sheetName    string
)

func init() {
	for _, c := range []*cobra.Command{scoreCmd, manualCmd, projectCmd} {
		c.Flags().StringVar(&outputFormat, "format", "table", "Output format: table or json")
		c.Flags().StringVar(&sheetName, "sheet", "", "Workbook sheet for XLSX input (default first sheet)")
	}
}

// ── score ────────────────────────────────────────────────────────────────────

var scoreActor string

var scoreCmd = &cobra.Command{
	Use:   "score <dataset.csv|dataset.xlsx>",
	Short: "Batch score every actor in a dataset file",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreActor, "actor", "", "Score only this actor")
}

func runScore(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Load(args[0], sheetName)
	if err != nil {
		return err
	}
	engine := scoring.NewEngine(cfg.Scoring, nil, logger.Named("scoring"))

	var results []domain.ScoreResult
	if scoreActor != "" {
		res, err := engine.ScoreActor(cmd.Context(), ds, scoreActor)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		batch, err := engine.ScoreBatch(cmd.Context(), ds)
		if err != nil {
			return err
		}
		for _, res := range batch {
			results = append(results, res)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].ActorID < results[j].ActorID
	})

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, results)
	}
	return writeScoreTable(out, results)
}

// ── manual ───────────────────────────────────────────────────────────────────

var (
	manualDataset string
	manualReq     domain.ManualRequest
	manualInts    = map[string]*int{}
	manualFloats  = map[string]*float64{}
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Score analyst-entered values against the fixed ceiling",
	Long: `manual scores one set of analyst values. Every scoring input is required;
--tactic and --region are looked up in --dataset and need --tactic-weight or
--region-weight when the dataset does not carry them.

  harrier manual --dataset threats.csv --techniques 12 --platforms 3 \
    --tactic TA0001 --region Russia --cvss 8.8 --impact 4 --ioc 2 --years 6`,
	Args: cobra.NoArgs,
	RunE: runManual,
}

func init() {
	f := manualCmd.Flags()
	f.StringVar(&manualDataset, "dataset", "", "Dataset file used for tactic/region lookups and ceiling widening")
	f.StringVar(&manualReq.ActorID, "actor", "", "Label for the scored actor")
	f.StringVar(&manualReq.TacticID, "tactic", "", "Tactic ID to look up in the dataset")
	f.StringVar(&manualReq.Region, "region", "", "Region to look up in the dataset")

	manualInts[domain.FieldTechniqueCount] = f.Int("techniques", 0, "Distinct technique count")
	manualInts[domain.FieldPlatformCount] = f.Int("platforms", 0, "Platform count")
	manualFloats[domain.FieldTacticWeight] = f.Float64("tactic-weight", 0, "Tactic weight override")
	manualFloats[domain.FieldRegionWeight] = f.Float64("region-weight", 0, "Region weight override")
	manualFloats[domain.FieldCVSSScore] = f.Float64("cvss", 0, "CVSS base score (0-10)")
	manualFloats[domain.FieldImpactCount] = f.Float64("impact", 0, "Impact (CVE) count")
	manualFloats[domain.FieldIoCWeight] = f.Float64("ioc", 0, "IoC weight")
	manualFloats[domain.FieldElapsedYears] = f.Float64("years", 0, "Elapsed years")
}

// manualFlagNames maps request fields to their flag names.
var manualFlagNames = map[string]string{
	domain.FieldTechniqueCount: "techniques",
	domain.FieldPlatformCount:  "platforms",
	domain.FieldTacticWeight:   "tactic-weight",
	domain.FieldRegionWeight:   "region-weight",
	domain.FieldCVSSScore:      "cvss",
	domain.FieldImpactCount:    "impact",
	domain.FieldIoCWeight:      "ioc",
	domain.FieldElapsedYears:   "years",
}

func runManual(cmd *cobra.Command, args []string) error {
	req := manualReq
	// Flags left unset stay nil so the resolver reports them as missing.
	set := func(field string) bool { return cmd.Flags().Changed(manualFlagNames[field]) }
	if set(domain.FieldTechniqueCount) {
		req.TechniqueCount = manualInts[domain.FieldTechniqueCount]
	}
	if set(domain.FieldPlatformCount) {
		req.PlatformCount = manualInts[domain.FieldPlatformCount]
	}
	targets := map[string]**float64{
		domain.FieldTacticWeight: &req.TacticWeight,
		domain.FieldRegionWeight: &req.RegionWeight,
		domain.FieldCVSSScore:    &req.CVSSScore,
		domain.FieldImpactCount:  &req.ImpactCount,
		domain.FieldIoCWeight:    &req.IoCWeight,
		domain.FieldElapsedYears: &req.ElapsedYears,
	}
	for field, dst := range targets {
		if set(field) {
			*dst = manualFloats[field]
		}
	}

	ds := domain.NewDataset("manual", "manual", nil, time.Now().UTC())
	if manualDataset != "" {
		loaded, err := dataset.Load(manualDataset, sheetName)
		if err != nil {
			return err
		}
		ds = loaded
	}

	engine := scoring.NewEngine(cfg.Scoring, nil, logger.Named("scoring"))
	res, err := engine.ScoreManual(cmd.Context(), ds, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, res)
	}
	return writeScoreTable(out, []domain.ScoreResult{res})
}

// ── project ──────────────────────────────────────────────────────────────────

var projectCmd = &cobra.Command{
	Use:   "project <dataset.csv|dataset.xlsx>",
	Short: "Project actor scores year by year",
	Args:  cobra.ExactArgs(1),
	RunE:  runProject,
}

func init() {
	f := projectCmd.Flags()
	f.Int("start", 0, "First projected year (default from config)")
	f.Int("end", 0, "Last projected year (default from config)")
	f.Int("base", 0, "Year attack growth and defense maturity start (default from config)")
	f.Float64("growth", 0, "Yearly attack growth factor (default from config)")
	f.Float64("initial-defense", 0, "Defense score at the base year (default from config)")
	f.Float64("defense-factor", 0, "Yearly defense growth (default from config)")
}

func runProject(cmd *cobra.Command, args []string) error {
	params := cfg.Projection
	f := cmd.Flags()
	for name, dst := range map[string]*int{"start": &params.StartYear, "end": &params.EndYear, "base": &params.BaseYear} {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	for name, dst := range map[string]*float64{"growth": &params.Growth, "initial-defense": &params.InitialDefense, "defense-factor": &params.DefenseFactor} {
		if f.Changed(name) {
			*dst, _ = f.GetFloat64(name)
		}
	}

	ds, err := dataset.Load(args[0], sheetName)
	if err != nil {
		return err
	}
	proj, err := projection.Project(cmd.Context(), ds, params)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, proj)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tYEAR\tPROBABILITY\tPERCENTAGE")
	for _, p := range proj.Points {
		fmt.Fprintf(tw, "%s\t%d\t%.4g\t%.2f\n", p.ActorID, p.Year, p.Probability, p.Percentage)
	}
	return tw.Flush()
}

// ── output ───────────────────────────────────────────────────────────────────

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeScoreTable(w io.Writer, results []domain.ScoreResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTOR\tCOMPLEXITY\tPREVALENCE\tRAW\tPERCENT\tCATEGORY")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
			r.ActorID, r.Complexity, r.Prevalence, r.RawScore, r.Percentage, r.Category)
	}
	return tw.Flush()
}
