package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestTimeIntegral(t *testing.T) {
	tests := []struct {
		years float64
		want  float64
	}{
		{0, -0.5},
		{0.5, -0.375},
		{1, 0},
		{3, 4},
		{30, 449.5},
	}
	for _, tt := range tests {
		if got := TimeIntegral(tt.years); got != tt.want {
			t.Errorf("TimeIntegral(%v) = %v, want %v", tt.years, got, tt.want)
		}
	}
}

func TestRawScore(t *testing.T) {
	in := domain.ResolvedInputs{
		TechniqueCount: 2,
		PlatformCount:  2,
		TacticWeight:   3,
		RegionWeight:   2,
		CVSSScore:      7,
		ImpactCount:    3,
		IoCWeight:      1,
		ElapsedYears:   3,
	}

	if got := Complexity(in); got != 7 {
		t.Errorf("expected complexity 7, got %v", got)
	}
	if got := Prevalence(in); got != 17 {
		t.Errorf("expected prevalence 17, got %v", got)
	}
	if got := RawScore(in); got != 119 {
		t.Errorf("expected raw 119, got %v", got)
	}
}

func TestRawScoreNegativePrevalence(t *testing.T) {
	in := domain.ResolvedInputs{TechniqueCount: 1, ElapsedYears: 0}
	if got := RawScore(in); got != -0.5 {
		t.Errorf("expected raw -0.5, got %v", got)
	}
}

func TestBatchRange(t *testing.T) {
	t.Run("PaddedMinMax", func(t *testing.T) {
		rng := NewBatchRange([]float64{10, 20})
		if rng.Min != 9 || rng.Max != 21 {
			t.Fatalf("expected [9, 21], got [%v, %v]", rng.Min, rng.Max)
		}
		if got := Round2(rng.Percentage(10)); got != 8.33 {
			t.Errorf("expected 8.33, got %v", got)
		}
		if got := Round2(rng.Percentage(20)); got != 91.67 {
			t.Errorf("expected 91.67, got %v", got)
		}
	})

	t.Run("SingleValueIsFifty", func(t *testing.T) {
		rng := NewBatchRange([]float64{42})
		if got := rng.Percentage(42); got != 50 {
			t.Errorf("expected 50, got %v", got)
		}
	})

	t.Run("AllEqualIsFifty", func(t *testing.T) {
		rng := NewBatchRange([]float64{-3, -3, -3})
		if got := rng.Percentage(-3); got != 50 {
			t.Errorf("expected 50, got %v", got)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		rng := NewBatchRange([]float64{10, 20})
		if got := rng.Percentage(1000); got != 100 {
			t.Errorf("expected 100, got %v", got)
		}
		if got := rng.Percentage(-1000); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})
}

func TestFixedMax(t *testing.T) {
	got := FixedMax(domain.DefaultCeilingBounds())
	// (201 + 10 + 14) × (10 + 100 + 10 + 10 + 449.5)
	if got != 130387.5 {
		t.Errorf("expected 130387.5, got %v", got)
	}
}

func TestFixedPercentage(t *testing.T) {
	max := 200.0
	tests := []struct {
		raw  float64
		want float64
	}{
		{0, 0},
		{50, 25},
		{200, 100},
		{500, 100},
		{-10, 0},
	}
	for _, tt := range tests {
		if got := FixedPercentage(tt.raw, max); got != tt.want {
			t.Errorf("FixedPercentage(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if got := FixedPercentage(10, 0); got != 0 {
		t.Errorf("expected 0 for zero ceiling, got %v", got)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		pct  float64
		want domain.Category
	}{
		{0, domain.CategoryVeryLow},
		{19.999, domain.CategoryVeryLow},
		{20, domain.CategoryLow},
		{39.99, domain.CategoryLow},
		{40, domain.CategoryModerate},
		{59.99, domain.CategoryModerate},
		{60, domain.CategoryCritical},
		{79.99, domain.CategoryCritical},
		{80, domain.CategoryHighlyCritical},
		{100, domain.CategoryHighlyCritical},
	}
	for _, tt := range tests {
		if got := Categorize(tt.pct); got != tt.want {
			t.Errorf("Categorize(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestCategoryUsesUnroundedPercentage(t *testing.T) {
	r := buildResult("APT1", domain.ResolvedInputs{}, 0, 19.996, domain.ModeBatchRelative)
	if r.Percentage != 20 {
		t.Errorf("expected display percentage 20, got %v", r.Percentage)
	}
	if r.Category != domain.CategoryVeryLow {
		t.Errorf("expected Very Low from unrounded percentage, got %s", r.Category)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(8.3333); got != 8.33 {
		t.Errorf("expected 8.33, got %v", got)
	}
	if got := Round2(91.6666); got != 91.67 {
		t.Errorf("expected 91.67, got %v", got)
	}
	if got := Round2(-0.125); math.Abs(got+0.13) > 1e-9 {
		t.Errorf("expected -0.13, got %v", got)
	}
}
