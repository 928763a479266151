package clinicalrecord

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestComputeTrend_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name     string
		previous float64
		current  float64
		want     Direction
	}{
		{"0.9% rise is stable", 100, 100.9, DirectionStable},
		{"1.1% rise is increasing", 100, 101.1, DirectionIncreasing},
		{"0.9% drop is stable", 100, 99.1, DirectionStable},
		{"1.1% drop is decreasing", 100, 98.9, DirectionDecreasing},
		{"no change", 72, 72, DirectionStable},
		{"from zero upwards", 0, 5, DirectionIncreasing},
		{"zero to zero", 0, 0, DirectionStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeTrend(tt.previous, tt.current, 1)
			if got.Direction != tt.want {
				t.Errorf("direction = %s, want %s (%+v)", got.Direction, tt.want, got)
			}
			if math.Abs(got.Delta-(tt.current-tt.previous)) > 1e-9 {
				t.Errorf("delta = %v", got.Delta)
			}
		})
	}
}

func TestComputeTrend_Percent(t *testing.T) {
	got := computeTrend(80, 76, 1)
	if got.Percent == nil || math.Abs(*got.Percent-(-5)) > 1e-9 {
		t.Errorf("percent = %v, want -5", got.Percent)
	}
	if zero := computeTrend(0, 3, 1); zero.Percent != nil {
		t.Errorf("percent from zero must be nil, got %v", *zero.Percent)
	}
}

func TestComputeTrend_CustomStability(t *testing.T) {
	if got := computeTrend(100, 104, 5); got.Direction != DirectionStable {
		t.Errorf("4%% change with 5%% stability = %s, want stable", got.Direction)
	}
	if got := computeTrend(100, 100.5, 0); got.Direction != DirectionIncreasing {
		t.Errorf("any change with zero stability = %s, want increasing", got.Direction)
	}
}

func chainOf(t *testing.T, repo *memRepo, patient uuid.UUID, weights ...*float64) []*ClinicalRecord {
	t.Helper()
	var out []*ClinicalRecord
	var prev *uuid.UUID
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, w := range weights {
		day := base.AddDate(0, 0, 7*i)
		rec := repo.seed(&ClinicalRecord{
			PatientID: patient, RecordDate: DateOf(day), CreatedAt: day,
			PreviousRecordID: prev,
			Measurements:     Measurements{WeightKg: w},
		})
		prev = idPtr(rec.ID)
		out = append(out, rec)
	}
	return out
}

func TestComputeTrends_InsufficientHistory(t *testing.T) {
	repo := newMemRepo()
	patient := uuid.New()
	chainOf(t, repo, patient, f64(80))

	a := NewTrendAnalyzer(repo, 1, 500, zerolog.Nop())
	got, err := a.ComputeTrends(context.Background(), patient, []string{"weight"})
	if err != nil {
		t.Fatalf("insufficient history must not be an error: %v", err)
	}
	if _, ok := got["weight"]; ok {
		t.Errorf("weight must be omitted with a single value, got %+v", got)
	}
}

func TestComputeTrends_SkipsMissingValues(t *testing.T) {
	repo := newMemRepo()
	patient := uuid.New()
	chainOf(t, repo, patient, f64(90), f64(100), nil, f64(102), nil)

	a := NewTrendAnalyzer(repo, 1, 500, zerolog.Nop())
	got, err := a.ComputeTrends(context.Background(), patient, []string{"weight", "weight_kg", "bmi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{"weight", "weight_kg"} {
		tr, ok := got[key]
		if !ok {
			t.Fatalf("missing %s trend", key)
		}
		if tr.Previous != 100 || tr.Current != 102 || tr.Direction != DirectionIncreasing {
			t.Errorf("%s trend = %+v, want 100 -> 102 increasing", key, tr)
		}
	}
	if _, ok := got["bmi"]; ok {
		t.Error("bmi has no values and must be omitted")
	}
}

func TestComputeTrends_DefaultFieldsAndUnknown(t *testing.T) {
	repo := newMemRepo()
	patient := uuid.New()
	chainOf(t, repo, patient, f64(90), f64(85))
	a := NewTrendAnalyzer(repo, 1, 500, zerolog.Nop())

	got, err := a.ComputeTrends(context.Background(), patient, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got["weight_kg"].Direction != DirectionDecreasing {
		t.Errorf("default trends = %+v", got)
	}

	if _, err := a.ComputeTrends(context.Background(), patient, []string{"shoe_size"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown field, got %v", err)
	}
}

func TestComputeTrends_NoHistory(t *testing.T) {
	a := NewTrendAnalyzer(newMemRepo(), 1, 500, zerolog.Nop())
	got, err := a.ComputeTrends(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty map, got %v", got)
	}
}
