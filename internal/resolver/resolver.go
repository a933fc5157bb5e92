// Package resolver turns dataset rows or analyst input into scoring inputs.
package resolver

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// ResolveForActor aggregates an actor's rows into one set of inputs.
// TechniqueCount is the number of distinct non-empty technique IDs; every other
// field is the mean over the actor's rows, which collapses the per-row copies of
// actor-level attributes.
func ResolveForActor(ds *domain.Dataset, actorID string) (domain.ResolvedInputs, error) {
	rows := ds.ActorRows(actorID)
	if len(rows) == 0 {
		return domain.ResolvedInputs{}, &domain.UnknownActorError{ActorID: actorID}
	}

	techniques := make(map[string]struct{})
	var platform, tactic, region, cvss, impact, ioc, years float64
	for _, r := range rows {
		if r.TechniqueID != "" {
			techniques[r.TechniqueID] = struct{}{}
		}
		platform += float64(r.PlatformCount)
		tactic += r.TacticWeight
		region += r.RegionWeight
		cvss += r.CVSSBaseScore
		impact += float64(r.CVECount)
		ioc += r.IoCWeight
		years += r.ElapsedYears
	}

	n := float64(len(rows))
	in := domain.ResolvedInputs{
		TechniqueCount: len(techniques),
		PlatformCount:  platform / n,
		TacticWeight:   tactic / n,
		RegionWeight:   region / n,
		CVSSScore:      cvss / n,
		ImpactCount:    impact / n,
		IoCWeight:      ioc / n,
		ElapsedYears:   years / n,
	}
	if err := in.Validate(); err != nil {
		return domain.ResolvedInputs{}, err
	}
	return in, nil
}

// ResolveManual builds inputs from an analyst request.
//
// Tactic and region weights are taken from the dataset when the request names a
// key the dataset carries. A key the dataset does not carry, or one of the
// "Unknown"/"Other" placeholders, needs an explicit weight override. Every field
// that cannot be resolved is reported in a single MissingRequiredFieldError.
func ResolveManual(ds *domain.Dataset, req domain.ManualRequest) (domain.ResolvedInputs, error) {
	var missing []string

	if req.TechniqueCount == nil {
		missing = append(missing, domain.FieldTechniqueCount)
	}
	if req.PlatformCount == nil {
		missing = append(missing, domain.FieldPlatformCount)
	}
	tactic, tacticOK := lookupWeight(req.TacticID, req.TacticWeight, ds.TacticWeight)
	if !tacticOK {
		missing = append(missing, domain.FieldTacticWeight)
	}
	region, regionOK := lookupWeight(req.Region, req.RegionWeight, ds.RegionWeight)
	if !regionOK {
		missing = append(missing, domain.FieldRegionWeight)
	}
	if req.CVSSScore == nil {
		missing = append(missing, domain.FieldCVSSScore)
	}
	if req.ImpactCount == nil {
		missing = append(missing, domain.FieldImpactCount)
	}
	if req.IoCWeight == nil {
		missing = append(missing, domain.FieldIoCWeight)
	}
	if req.ElapsedYears == nil {
		missing = append(missing, domain.FieldElapsedYears)
	}
	if len(missing) > 0 {
		return domain.ResolvedInputs{}, &domain.MissingRequiredFieldError{Fields: missing}
	}

	in := domain.ResolvedInputs{
		TechniqueCount: *req.TechniqueCount,
		PlatformCount:  float64(*req.PlatformCount),
		TacticWeight:   tactic,
		RegionWeight:   region,
		CVSSScore:      *req.CVSSScore,
		ImpactCount:    *req.ImpactCount,
		IoCWeight:      *req.IoCWeight,
		ElapsedYears:   *req.ElapsedYears,
	}
	if err := in.Validate(); err != nil {
		return domain.ResolvedInputs{}, err
	}
	return in, nil
}

// lookupWeight applies dataset-first precedence for a keyed weight.
func lookupWeight(key string, override *float64, fromDataset func(string) (float64, bool)) (float64, bool) {
	if key != "" && !domain.UnknownKeys[key] {
		if w, ok := fromDataset(key); ok {
			return w, true
		}
	}
	if override != nil {
		return *override, true
	}
	return 0, false
}
