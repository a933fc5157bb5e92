// Package scoring implements the threat actor score engine.
package scoring

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TimeIntegral is the time term of prevalence, (t² − 1) / 2.
// It is negative below one year, so prevalence may be negative.
func TimeIntegral(t float64) float64 {
	return (t*t - 1) / 2
}

// Complexity is technique_count + platform_count + tactic_weight.
func Complexity(in domain.ResolvedInputs) float64 {
	return float64(in.TechniqueCount) + in.PlatformCount + in.TacticWeight
}

// Prevalence is region_weight + impact_count + cvss_score + ioc_weight + TimeIntegral(elapsed_years).
func Prevalence(in domain.ResolvedInputs) float64 {
	return in.RegionWeight + in.ImpactCount + in.CVSSScore + in.IoCWeight + TimeIntegral(in.ElapsedYears)
}

// RawScore is complexity × prevalence.
func RawScore(in domain.ResolvedInputs) float64 {
	return Complexity(in) * Prevalence(in)
}

// BatchRange is the padded min/max of a batch of raw scores.
type BatchRange struct {
	Min float64
	Max float64
}

// NewBatchRange pads the observed extremes by one on each side, which keeps the
// denominator positive even when every raw score is equal.
func NewBatchRange(raws []float64) BatchRange {
	if len(raws) == 0 {
		return BatchRange{Min: -1, Max: 1}
	}
	lo, hi := raws[0], raws[0]
	for _, r := range raws[1:] {
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}
	return BatchRange{Min: lo - 1, Max: hi + 1}
}

// Percentage rescales raw into [0, 100] against the range.
func (b BatchRange) Percentage(raw float64) float64 {
	return clampPct((raw - b.Min) / (b.Max - b.Min) * 100)
}

// FixedMax is the largest raw score reachable within bounds.
func FixedMax(b domain.CeilingBounds) float64 {
	complexity := b.MaxTechniqueCount + b.MaxPlatformCount + b.MaxTacticWeight
	prevalence := b.MaxRegionWeight + b.MaxImpactCount + b.MaxCVSSScore + b.MaxIoCWeight + TimeIntegral(b.MaxElapsedYears)
	return complexity * prevalence
}

// FixedPercentage rescales raw into [0, 100] against a fixed ceiling.
func FixedPercentage(raw, fixedMax float64) float64 {
	if fixedMax <= 0 {
		return 0
	}
	return clampPct(raw / fixedMax * 100)
}

// Categorize maps a percentage to its risk category.
// Bins are lower-inclusive: [0,20) [20,40) [40,60) [60,80) [80,100].
func Categorize(pct float64) domain.Category {
	switch {
	case pct >= 80:
		return domain.CategoryHighlyCritical
	case pct >= 60:
		return domain.CategoryCritical
	case pct >= 40:
		return domain.CategoryModerate
	case pct >= 20:
		return domain.CategoryLow
	default:
		return domain.CategoryVeryLow
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// buildResult assembles a display result. pct is unrounded; the category is
// taken from it before rounding.
func buildResult(actorID string, in domain.ResolvedInputs, raw, pct float64, mode domain.NormalizationMode) domain.ScoreResult {
	return domain.ScoreResult{
		ActorID:    actorID,
		Complexity: Round2(Complexity(in)),
		Prevalence: Round2(Prevalence(in)),
		RawScore:   raw,
		Percentage: Round2(pct),
		Category:   Categorize(pct),
		Mode:       mode,
		Inputs:     in,
	}
}
