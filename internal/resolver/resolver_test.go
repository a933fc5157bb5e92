package resolver

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func testDataset() *domain.Dataset {
	return domain.NewDataset("ds-1", "test", []domain.ThreatActorRecord{
		{ActorID: "APT1", TechniqueID: "T1", TacticID: "TA1", TacticWeight: 3, PlatformCount: 2, Region: "Asia", RegionWeight: 2, CVSSBaseScore: 7, CVECount: 3, IoCWeight: 1, ElapsedYears: 3},
		{ActorID: "APT1", TechniqueID: "T2", TacticID: "TA1", TacticWeight: 3, PlatformCount: 2, Region: "Asia", RegionWeight: 2, CVSSBaseScore: 7, CVECount: 3, IoCWeight: 1, ElapsedYears: 3},
		{ActorID: "APT1", TechniqueID: "T1", TacticID: "TA1", TacticWeight: 3, PlatformCount: 2, Region: "Asia", RegionWeight: 2, CVSSBaseScore: 7, CVECount: 3, IoCWeight: 1, ElapsedYears: 3},
		{ActorID: "APT2", TechniqueID: "T9", TacticID: "TA2", TacticWeight: 5, PlatformCount: 1, Region: "Europe", RegionWeight: 4, CVSSBaseScore: 5, CVECount: 1, IoCWeight: 2, ElapsedYears: 1},
		{ActorID: "APT2", TechniqueID: "", TacticID: "TA2", TacticWeight: 7, PlatformCount: 3, Region: "Europe", RegionWeight: 6, CVSSBaseScore: 9, CVECount: 3, IoCWeight: 4, ElapsedYears: 3},
	}, time.Now())
}

func ptr[T any](v T) *T { return &v }

func TestResolveForActor(t *testing.T) {
	ds := testDataset()

	t.Run("DistinctTechniquesAndMeans", func(t *testing.T) {
		in, err := ResolveForActor(ds, "APT1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := domain.ResolvedInputs{
			TechniqueCount: 2,
			PlatformCount:  2,
			TacticWeight:   3,
			RegionWeight:   2,
			CVSSScore:      7,
			ImpactCount:    3,
			IoCWeight:      1,
			ElapsedYears:   3,
		}
		if in != want {
			t.Errorf("expected %+v, got %+v", want, in)
		}
	})

	t.Run("EmptyTechniqueIgnoredAndMeansAveraged", func(t *testing.T) {
		in, err := ResolveForActor(ds, "APT2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.TechniqueCount != 1 {
			t.Errorf("expected 1 technique, got %d", in.TechniqueCount)
		}
		if in.PlatformCount != 2 || in.TacticWeight != 6 || in.RegionWeight != 5 {
			t.Errorf("unexpected means: %+v", in)
		}
		if in.CVSSScore != 7 || in.ImpactCount != 2 || in.IoCWeight != 3 || in.ElapsedYears != 2 {
			t.Errorf("unexpected means: %+v", in)
		}
	})

	t.Run("UnknownActor", func(t *testing.T) {
		_, err := ResolveForActor(ds, "APT99")
		if !errors.Is(err, domain.ErrUnknownActor) {
			t.Fatalf("expected ErrUnknownActor, got %v", err)
		}
		var uae *domain.UnknownActorError
		if !errors.As(err, &uae) || uae.ActorID != "APT99" {
			t.Errorf("expected UnknownActorError for APT99, got %v", err)
		}
	})

	t.Run("CaseSensitive", func(t *testing.T) {
		if _, err := ResolveForActor(ds, "apt1"); !errors.Is(err, domain.ErrUnknownActor) {
			t.Errorf("expected lowercase id to be unknown, got %v", err)
		}
	})

	t.Run("DoesNotMutateDataset", func(t *testing.T) {
		before := ds.Records()
		_, _ = ResolveForActor(ds, "APT1")
		if !reflect.DeepEqual(before, ds.Records()) {
			t.Error("dataset records changed")
		}
	})
}

func fullRequest() domain.ManualRequest {
	return domain.ManualRequest{
		TechniqueCount: ptr(4),
		PlatformCount:  ptr(2),
		TacticID:       "TA1",
		Region:         "Asia",
		CVSSScore:      ptr(6.5),
		ImpactCount:    ptr(2.0),
		IoCWeight:      ptr(1.0),
		ElapsedYears:   ptr(2.0),
	}
}

func TestResolveManual(t *testing.T) {
	ds := testDataset()

	t.Run("DatasetWeights", func(t *testing.T) {
		in, err := ResolveManual(ds, fullRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.TacticWeight != 3 || in.RegionWeight != 2 {
			t.Errorf("expected dataset weights 3/2, got %v/%v", in.TacticWeight, in.RegionWeight)
		}
		if in.TechniqueCount != 4 || in.PlatformCount != 2 || in.CVSSScore != 6.5 {
			t.Errorf("unexpected inputs: %+v", in)
		}
	})

	t.Run("DatasetWeightIsMeanOverMatchingRows", func(t *testing.T) {
		req := fullRequest()
		req.TacticID = "TA2"
		req.Region = "Europe"
		in, err := ResolveManual(ds, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.TacticWeight != 6 || in.RegionWeight != 5 {
			t.Errorf("expected 6/5, got %v/%v", in.TacticWeight, in.RegionWeight)
		}
	})

	t.Run("DatasetWinsOverOverride", func(t *testing.T) {
		req := fullRequest()
		req.TacticWeight = ptr(99.0)
		in, err := ResolveManual(ds, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.TacticWeight != 3 {
			t.Errorf("expected dataset weight 3, got %v", in.TacticWeight)
		}
	})

	t.Run("OverrideForUnknownKey", func(t *testing.T) {
		req := fullRequest()
		req.TacticID = "Unknown"
		req.TacticWeight = ptr(8.0)
		req.Region = "Other"
		req.RegionWeight = ptr(1.5)
		in, err := ResolveManual(ds, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.TacticWeight != 8 || in.RegionWeight != 1.5 {
			t.Errorf("expected overrides 8/1.5, got %v/%v", in.TacticWeight, in.RegionWeight)
		}
	})

	t.Run("OverrideForKeyNotInDataset", func(t *testing.T) {
		req := fullRequest()
		req.Region = "Antarctica"
		req.RegionWeight = ptr(0.5)
		in, err := ResolveManual(ds, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.RegionWeight != 0.5 {
			t.Errorf("expected override 0.5, got %v", in.RegionWeight)
		}
	})

	t.Run("UnknownKeyWithoutOverrideIsMissing", func(t *testing.T) {
		req := fullRequest()
		req.TacticID = "Unknown"
		_, err := ResolveManual(ds, req)
		var mrf *domain.MissingRequiredFieldError
		if !errors.As(err, &mrf) {
			t.Fatalf("expected MissingRequiredFieldError, got %v", err)
		}
		if !reflect.DeepEqual(mrf.Fields, []string{domain.FieldTacticWeight}) {
			t.Errorf("unexpected fields: %v", mrf.Fields)
		}
	})

	t.Run("AllMissingReportedTogether", func(t *testing.T) {
		_, err := ResolveManual(ds, domain.ManualRequest{})
		if !errors.Is(err, domain.ErrMissingRequiredField) {
			t.Fatalf("expected ErrMissingRequiredField, got %v", err)
		}
		var mrf *domain.MissingRequiredFieldError
		errors.As(err, &mrf)
		want := []string{
			domain.FieldTechniqueCount,
			domain.FieldPlatformCount,
			domain.FieldTacticWeight,
			domain.FieldRegionWeight,
			domain.FieldCVSSScore,
			domain.FieldImpactCount,
			domain.FieldIoCWeight,
			domain.FieldElapsedYears,
		}
		if !reflect.DeepEqual(mrf.Fields, want) {
			t.Errorf("expected %v, got %v", want, mrf.Fields)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		cases := []struct {
			name  string
			mod   func(*domain.ManualRequest)
			field string
		}{
			{"CVSSAboveTen", func(r *domain.ManualRequest) { r.CVSSScore = ptr(10.5) }, domain.FieldCVSSScore},
			{"NegativeTechniques", func(r *domain.ManualRequest) { r.TechniqueCount = ptr(-1) }, domain.FieldTechniqueCount},
			{"NegativeYears", func(r *domain.ManualRequest) { r.ElapsedYears = ptr(-2.0) }, domain.FieldElapsedYears},
			{"NaNIoC", func(r *domain.ManualRequest) { r.IoCWeight = ptr(math.NaN()) }, domain.FieldIoCWeight},
			{"InfImpact", func(r *domain.ManualRequest) { r.ImpactCount = ptr(math.Inf(1)) }, domain.FieldImpactCount},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := fullRequest()
				tc.mod(&req)
				_, err := ResolveManual(ds, req)
				var oor *domain.OutOfRangeError
				if !errors.As(err, &oor) {
					t.Fatalf("expected OutOfRangeError, got %v", err)
				}
				if oor.Field != tc.field {
					t.Errorf("expected field %s, got %s", tc.field, oor.Field)
				}
				if !errors.Is(err, domain.ErrOutOfRange) {
					t.Error("expected errors.Is ErrOutOfRange")
				}
			})
		}
	})
}
