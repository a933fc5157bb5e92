package domain

import "math"

// Scoring input field names, used in error values and API payloads.
const (
	FieldTechniqueCount     = "technique_count"
	FieldPlatformCount      = "platform_count"
	FieldTacticWeight       = "tactic_weight"
	FieldRegionWeight       = "region_weight"
	FieldCVSSScore          = "cvss_score"
	FieldImpactCount        = "impact_count"
	FieldIoCWeight          = "ioc_weight"
	FieldElapsedYears       = "elapsed_years"
	FieldVulnerabilityScore = "vulnerability_score"
)

// UnknownKey values mark a tactic or region the analyst could not match.
// They never resolve against the dataset.
var UnknownKeys = map[string]bool{
	"Unknown": true,
	"Other":   true,
}

// ResolvedInputs are the eight values consumed by the score engine for one actor.
// PlatformCount is a float because autonomous resolution averages it across rows.
type ResolvedInputs struct {
	TechniqueCount int     `json:"techniqueCount"`
	PlatformCount  float64 `json:"platformCount"`
	TacticWeight   float64 `json:"tacticWeight"`
	RegionWeight   float64 `json:"regionWeight"`
	CVSSScore      float64 `json:"cvssScore"`
	ImpactCount    float64 `json:"impactCount"`
	IoCWeight      float64 `json:"iocWeight"`
	ElapsedYears   float64 `json:"elapsedYears"`
}

// Validate checks every field against its declared domain.
func (in ResolvedInputs) Validate() error {
	if in.TechniqueCount < 0 {
		return &OutOfRangeError{Field: FieldTechniqueCount, Value: float64(in.TechniqueCount), Min: 0, Max: math.Inf(1)}
	}
	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{FieldPlatformCount, in.PlatformCount, 0, math.Inf(1)},
		{FieldTacticWeight, in.TacticWeight, 0, math.Inf(1)},
		{FieldRegionWeight, in.RegionWeight, 0, math.Inf(1)},
		{FieldCVSSScore, in.CVSSScore, 0, 10},
		{FieldImpactCount, in.ImpactCount, 0, math.Inf(1)},
		{FieldIoCWeight, in.IoCWeight, 0, math.Inf(1)},
		{FieldElapsedYears, in.ElapsedYears, 0, math.Inf(1)},
	}
	for _, c := range checks {
		if err := CheckRange(c.field, c.value, c.min, c.max); err != nil {
			return err
		}
	}
	return nil
}

// CheckRange returns an OutOfRangeError when v is NaN, infinite or outside [min, max].
func CheckRange(field string, v, min, max float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < min || v > max {
		return &OutOfRangeError{Field: field, Value: v, Min: min, Max: max}
	}
	return nil
}

// NormalizationMode selects how a raw score becomes a percentage.
type NormalizationMode string

const (
	// ModeBatchRelative rescales against the padded min/max of a whole batch.
	ModeBatchRelative NormalizationMode = "batch_relative"

	// ModeFixedCeiling rescales against a constant derived from field bounds.
	ModeFixedCeiling NormalizationMode = "fixed_ceiling"
)

// Category is the ordinal risk label derived from a percentage.
type Category string

const (
	CategoryVeryLow        Category = "Very Low"
	CategoryLow            Category = "Low"
	CategoryModerate       Category = "Moderate"
	CategoryCritical       Category = "Critical"
	CategoryHighlyCritical Category = "Highly Critical"
)

// ScoreResult is the output of scoring one actor.
// Complexity, Prevalence and Percentage are rounded to 2 decimals; RawScore is not.
type ScoreResult struct {
	ActorID    string            `json:"actorId"`
	Complexity float64           `json:"complexity"`
	Prevalence float64           `json:"prevalence"`
	RawScore   float64           `json:"rawScore"`
	Percentage float64           `json:"percentage"`
	Category   Category          `json:"category"`
	Mode       NormalizationMode `json:"mode"`
	Inputs     ResolvedInputs    `json:"inputs"`
}

// ManualRequest is an analyst-entered scoring request.
// Nil pointers are absent values. TacticID and Region are resolved against the dataset;
// TacticWeight and RegionWeight are explicit overrides for keys the dataset does not know.
type ManualRequest struct {
	ActorID        string   `json:"actorId,omitempty"`
	TechniqueCount *int     `json:"techniqueCount,omitempty"`
	PlatformCount  *int     `json:"platformCount,omitempty"`
	TacticID       string   `json:"tacticId,omitempty"`
	TacticWeight   *float64 `json:"tacticWeight,omitempty"`
	Region         string   `json:"region,omitempty"`
	RegionWeight   *float64 `json:"regionWeight,omitempty"`
	CVSSScore      *float64 `json:"cvssScore,omitempty"`
	ImpactCount    *float64 `json:"impactCount,omitempty"`
	IoCWeight      *float64 `json:"iocWeight,omitempty"`
	ElapsedYears   *float64 `json:"elapsedYears,omitempty"`
}

// CeilingBounds are the declared per-field maxima behind the fixed-ceiling normalization.
// A dataset whose observed maxima exceed them widens the bounds; they never shrink.
type CeilingBounds struct {
	MaxTechniqueCount float64 `json:"maxTechniqueCount" mapstructure:"maxtechniquecount"`
	MaxPlatformCount  float64 `json:"maxPlatformCount" mapstructure:"maxplatformcount"`
	MaxTacticWeight   float64 `json:"maxTacticWeight" mapstructure:"maxtacticweight"`
	MaxRegionWeight   float64 `json:"maxRegionWeight" mapstructure:"maxregionweight"`
	MaxCVSSScore      float64 `json:"maxCvssScore" mapstructure:"maxcvssscore"`
	MaxImpactCount    float64 `json:"maxImpactCount" mapstructure:"maximpactcount"`
	MaxIoCWeight      float64 `json:"maxIocWeight" mapstructure:"maxiocweight"`
	MaxElapsedYears   float64 `json:"maxElapsedYears" mapstructure:"maxelapsedyears"`
}

// DefaultCeilingBounds returns the documented field maxima.
func DefaultCeilingBounds() CeilingBounds {
	return CeilingBounds{
		MaxTechniqueCount: 201,
		MaxPlatformCount:  10,
		MaxTacticWeight:   14,
		MaxRegionWeight:   10,
		MaxCVSSScore:      10,
		MaxImpactCount:    100,
		MaxIoCWeight:      10,
		MaxElapsedYears:   30,
	}
}

// Widen returns bounds raised to cover in.
func (b CeilingBounds) Widen(in ResolvedInputs) CeilingBounds {
	b.MaxTechniqueCount = math.Max(b.MaxTechniqueCount, float64(in.TechniqueCount))
	b.MaxPlatformCount = math.Max(b.MaxPlatformCount, in.PlatformCount)
	b.MaxTacticWeight = math.Max(b.MaxTacticWeight, in.TacticWeight)
	b.MaxRegionWeight = math.Max(b.MaxRegionWeight, in.RegionWeight)
	b.MaxCVSSScore = math.Max(b.MaxCVSSScore, in.CVSSScore)
	b.MaxImpactCount = math.Max(b.MaxImpactCount, in.ImpactCount)
	b.MaxIoCWeight = math.Max(b.MaxIoCWeight, in.IoCWeight)
	b.MaxElapsedYears = math.Max(b.MaxElapsedYears, in.ElapsedYears)
	return b
}
