// Package projection models how actor scores evolve over a range of years as
// attack capability and defensive maturity both grow.
package projection

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/resolver"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// MaxYears bounds the projection horizon.
const MaxYears = 200

// Validate checks that params describe a usable horizon.
func Validate(p domain.ProjectionParams) error {
	if p.EndYear < p.StartYear || p.EndYear-p.StartYear > MaxYears {
		return &domain.OutOfRangeError{Field: "end_year", Value: float64(p.EndYear), Min: float64(p.StartYear), Max: float64(p.StartYear + MaxYears)}
	}
	if err := domain.CheckRange("growth", p.Growth, 0, 10); err != nil {
		return err
	}
	if err := domain.CheckRange("initial_defense", p.InitialDefense, 1e-9, 1e9); err != nil {
		return err
	}
	return domain.CheckRange("defense_factor", p.DefenseFactor, 0, 1e9)
}

// Project computes every actor's probability for every year in the horizon.
//
// Before the base year the probability is complexity × prevalence. From the base
// year on both terms grow by the attack factor, are weighted by the dataset's mean
// vulnerability score and are divided by the defense score for that year.
// Percentages are min-max normalised over all points without padding.
func Project(ctx context.Context, ds *domain.Dataset, p domain.ProjectionParams) (*domain.Projection, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	vuln, ok := meanVulnerability(ds)
	if !ok {
		return nil, &domain.MissingRequiredFieldError{Fields: []string{domain.FieldVulnerabilityScore}}
	}

	ids := ds.ActorIDs()
	inputs := make([]domain.ResolvedInputs, len(ids))
	for i, id := range ids {
		in, err := resolver.ResolveForActor(ds, id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		inputs[i] = in
	}

	years := p.EndYear - p.StartYear + 1
	points := make([]domain.ProjectionPoint, 0, years*len(ids))
	for year := p.StartYear; year <= p.EndYear; year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, id := range ids {
			in := inputs[i]
			points = append(points, domain.ProjectionPoint{
				ActorID:     id,
				Year:        year,
				Probability: Probability(scoring.Complexity(in), scoring.Prevalence(in), vuln, year, p),
			})
		}
	}

	normalize(points)

	return &domain.Projection{
		DatasetID:          ds.ID,
		Params:             p,
		VulnerabilityScore: vuln,
		Points:             points,
	}, nil
}

// Probability is one actor's projected value for one year.
func Probability(complexity, prevalence, vuln float64, year int, p domain.ProjectionParams) float64 {
	if year < p.BaseYear {
		return complexity * prevalence
	}
	elapsed := float64(year - p.BaseYear)
	attack := 1 + p.Growth*elapsed
	defense := p.InitialDefense + p.DefenseFactor*elapsed
	return (complexity * attack) * (prevalence * attack) * vuln / defense
}

func meanVulnerability(ds *domain.Dataset) (float64, bool) {
	var sum float64
	var n int
	for _, r := range ds.Records() {
		if r.VulnerabilityScore != nil {
			sum += *r.VulnerabilityScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// normalize fills Percentage in place. A flat series maps to zero.
func normalize(points []domain.ProjectionPoint) {
	if len(points) == 0 {
		return
	}
	lo, hi := points[0].Probability, points[0].Probability
	for _, pt := range points[1:] {
		lo = min(lo, pt.Probability)
		hi = max(hi, pt.Probability)
	}
	span := hi - lo
	for i := range points {
		if span == 0 {
			points[i].Percentage = 0
			continue
		}
		points[i].Percentage = scoring.Round2((points[i].Probability - lo) / span * 100)
	}
}
