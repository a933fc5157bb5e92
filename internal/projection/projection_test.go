package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func projectionDataset(vuln *float64) *domain.Dataset {
	return domain.NewDataset("ds-proj", "proj", []domain.ThreatActorRecord{
		// complexity 2, prevalence 5
		{ActorID: "APT-A", TechniqueID: "T1", PlatformCount: 1, CVSSBaseScore: 5, ElapsedYears: 1, VulnerabilityScore: vuln},
		// complexity 2, prevalence 10
		{ActorID: "APT-B", TechniqueID: "T1", PlatformCount: 1, CVSSBaseScore: 10, ElapsedYears: 1},
	}, time.Now())
}

func TestProbability(t *testing.T) {
	p := domain.DefaultProjectionParams()

	if got := Probability(2, 5, 4, 2020, p); got != 10 {
		t.Errorf("before base year expected 10, got %v", got)
	}
	// attack 1, defense 1
	if got := Probability(2, 5, 4, 2024, p); got != 40 {
		t.Errorf("at base year expected 40, got %v", got)
	}
	// attack 1.1, defense 2: (2.2 × 5.5 × 4) / 2
	if got := Probability(2, 5, 4, 2026, p); got < 24.199 || got > 24.201 {
		t.Errorf("expected 24.2, got %v", got)
	}
}

func TestProject(t *testing.T) {
	ds := projectionDataset(ptr(4.0))
	p := domain.DefaultProjectionParams()

	proj, err := Project(context.Background(), ds, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPoints := (p.EndYear - p.StartYear + 1) * 2
	if len(proj.Points) != wantPoints {
		t.Fatalf("expected %d points, got %d", wantPoints, len(proj.Points))
	}
	if proj.VulnerabilityScore != 4 {
		t.Errorf("expected mean vulnerability 4, got %v", proj.VulnerabilityScore)
	}

	first := proj.Points[0]
	if first.Year != 2019 || first.ActorID != "APT-A" || first.Probability != 10 {
		t.Errorf("unexpected first point: %+v", first)
	}

	var sawZero, sawHundred bool
	for _, pt := range proj.Points {
		if pt.Percentage < 0 || pt.Percentage > 100 {
			t.Errorf("percentage out of range: %+v", pt)
		}
		if pt.Percentage == 0 {
			sawZero = true
		}
		if pt.Percentage == 100 {
			sawHundred = true
		}
	}
	if !sawZero || !sawHundred {
		t.Error("expected unpadded normalisation to reach both 0 and 100")
	}
}

func TestProjectMissingVulnerability(t *testing.T) {
	_, err := Project(context.Background(), projectionDataset(nil), domain.DefaultProjectionParams())
	var mrf *domain.MissingRequiredFieldError
	if !errors.As(err, &mrf) {
		t.Fatalf("expected MissingRequiredFieldError, got %v", err)
	}
	if len(mrf.Fields) != 1 || mrf.Fields[0] != domain.FieldVulnerabilityScore {
		t.Errorf("unexpected fields: %v", mrf.Fields)
	}
}

func TestProjectInvalidParams(t *testing.T) {
	p := domain.DefaultProjectionParams()
	p.EndYear = p.StartYear - 1

	_, err := Project(context.Background(), projectionDataset(ptr(4.0)), p)
	if !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}

	p = domain.DefaultProjectionParams()
	p.InitialDefense = 0
	if err := Validate(p); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for zero defense, got %v", err)
	}
}

func TestProjectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Project(ctx, projectionDataset(ptr(4.0)), domain.DefaultProjectionParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
