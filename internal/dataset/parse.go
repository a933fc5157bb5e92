// Package dataset ingests threat actor spreadsheets and summarises them.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Canonical column names.
const (
	colActorID            = "actor_id"
	colTechniqueID        = "technique_id"
	colTacticID           = "tactic_id"
	colTacticWeight       = "tactic_weight"
	colPlatformCount      = "platform_count"
	colRegion             = "region"
	colRegionWeight       = "region_weight"
	colCVSSBaseScore      = "cvss_base_score"
	colCVECount           = "cve_count"
	colIoCWeight          = "ioc_weight"
	colElapsedYears       = "elapsed_years"
	colTacticDescription  = "tactic_description"
	colPlatforms          = "platforms"
	colCVEID              = "cve_id"
	colCWEID              = "cwe_id"
	colAttackerCategory   = "attacker_category"
	colVulnerabilityScore = "vulnerability_score"
)

// headerAliases maps normalised spreadsheet headers to canonical names.
var headerAliases = map[string]string{
	"apt":          colActorID,
	"actor":        colActorID,
	"threat_actor": colActorID,
	"technique":    colTechniqueID,
	"tactic":       colTacticID,
	"tactic_score": colTacticWeight,
	"cvss":         colCVSSBaseScore,
	"impact_score": colCVECount,
	"impact_count": colCVECount,
	"time":         colElapsedYears,
	"platform":     colPlatforms,
	"cve":          colCVEID,
	"cwe":          colCWEID,
	"category":     colAttackerCategory,
}

// requiredColumns must be present in every dataset, in reporting order.
// platform_count may instead be derived from platforms.
var requiredColumns = []string{
	colActorID,
	colTechniqueID,
	colTacticID,
	colTacticWeight,
	colPlatformCount,
	colRegion,
	colRegionWeight,
	colCVSSBaseScore,
	colCVECount,
	colIoCWeight,
	colElapsedYears,
}

var (
	// ErrMissingColumn is wrapped by a RowError on the header row.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptyCell is wrapped by a RowError for a blank required cell.
	ErrEmptyCell = errors.New("empty required cell")

	// ErrUnsupportedFormat is returned for inputs that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")

	// ErrNoHeader is returned for an input without a header row.
	ErrNoHeader = errors.New("dataset has no header row")
)

// RowError locates an ingestion failure. Row is 1-based and counts the header.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// NormalizeHeader lower-cases and trims a header, folds separators to
// underscores and resolves aliases.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("-", "_", " ", "_").Replace(h)
	if canonical, ok := headerAliases[h]; ok {
		return canonical
	}
	return h
}

// parseTable converts a header plus data rows into records.
func parseTable(header []string, rows [][]string) ([]domain.ThreatActorRecord, error) {
	if len(header) == 0 {
		return nil, ErrNoHeader
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := NormalizeHeader(h)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	_, hasPlatforms := index[colPlatforms]
	for _, col := range requiredColumns {
		if _, ok := index[col]; ok {
			continue
		}
		if col == colPlatformCount && hasPlatforms {
			continue
		}
		return nil, &RowError{Row: 1, Column: col, Err: ErrMissingColumn}
	}

	records := make([]domain.ThreatActorRecord, 0, len(rows))
	for i, row := range rows {
		if blank(row) {
			continue
		}
		rec, err := parseRow(i+2, row, index)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// rowReader pulls typed cells out of one row, keeping the first error.
type rowReader struct {
	line  int
	row   []string
	index map[string]int
	err   error
}

func (r *rowReader) cell(col string) (string, bool) {
	i, ok := r.index[col]
	if !ok || i >= len(r.row) {
		return "", ok
	}
	return strings.TrimSpace(r.row[i]), true
}

func (r *rowReader) fail(col string, err error) {
	if r.err == nil {
		r.err = &RowError{Row: r.line, Column: col, Err: err}
	}
}

func (r *rowReader) text(col string) string {
	v, _ := r.cell(col)
	return v
}

func (r *rowReader) float(col string, min, max float64) float64 {
	v, _ := r.cell(col)
	if v == "" {
		r.fail(col, ErrEmptyCell)
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(col, fmt.Errorf("not a number: %q", v))
		return 0
	}
	if err := domain.CheckRange(col, f, min, max); err != nil {
		r.fail(col, err)
		return 0
	}
	return f
}

func (r *rowReader) count(col string) int {
	f := r.float(col, 0, math.Inf(1))
	if r.err == nil && f != math.Trunc(f) {
		r.fail(col, fmt.Errorf("not a whole number: %v", f))
	}
	return int(f)
}

func (r *rowReader) optionalFloat(col string) *float64 {
	v, _ := r.cell(col)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(col, fmt.Errorf("not a number: %q", v))
		return nil
	}
	return &f
}

func parseRow(line int, row []string, index map[string]int) (domain.ThreatActorRecord, error) {
	r := &rowReader{line: line, row: row, index: index}
	inf := math.Inf(1)

	rec := domain.ThreatActorRecord{
		ActorID:     r.text(colActorID),
		TechniqueID: r.text(colTechniqueID),
		TacticID:    r.text(colTacticID),
		Region:      r.text(colRegion),
	}
	if rec.ActorID == "" {
		r.fail(colActorID, ErrEmptyCell)
	}

	rec.TacticWeight = r.float(colTacticWeight, 0, inf)
	rec.Platforms = splitPlatforms(r.text(colPlatforms))
	if _, ok := index[colPlatformCount]; ok {
		rec.PlatformCount = r.count(colPlatformCount)
	} else {
		rec.PlatformCount = len(rec.Platforms)
	}
	rec.RegionWeight = r.float(colRegionWeight, 0, inf)
	rec.CVSSBaseScore = r.float(colCVSSBaseScore, 0, 10)
	rec.CVECount = r.count(colCVECount)
	rec.IoCWeight = r.float(colIoCWeight, 0, inf)
	rec.ElapsedYears = r.float(colElapsedYears, 0, inf)

	rec.TacticDescription = r.text(colTacticDescription)
	rec.CVEID = r.text(colCVEID)
	rec.CWEID = r.text(colCWEID)
	rec.AttackerCategory = r.text(colAttackerCategory)
	rec.VulnerabilityScore = r.optionalFloat(colVulnerabilityScore)

	if r.err != nil {
		return domain.ThreatActorRecord{}, r.err
	}
	return rec, nil
}

func splitPlatforms(cell string) []string {
	if cell == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(cell, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
