package clinicalrecord

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func diffFixture(t *testing.T) (*memRepo, *ClinicalRecord, *ClinicalRecord) {
	t.Helper()
	repo := newMemRepo()
	patient := uuid.New()
	a := repo.seed(&ClinicalRecord{
		PatientID: patient, RecordDate: NewDate(2026, 1, 10), CreatedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		Measurements: Measurements{WeightKg: f64(100), WaistCm: f64(100), SystolicBP: f64(130), HeartRate: f64(70)},
		StructuredFields: StructuredFields{
			Conditions:  []string{"diabetes"},
			Medications: []string{"Metformin", "Aspirin"},
			Allergies:   []string{"Peanuts"},
		},
	})
	b := repo.seed(&ClinicalRecord{
		PatientID: patient, RecordDate: NewDate(2026, 2, 10), CreatedAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		PreviousRecordID: idPtr(a.ID),
		Measurements:     Measurements{WeightKg: f64(98), WaistCm: f64(100.9), SystolicBP: f64(135), GlucoseMgDl: f64(110)},
		StructuredFields: StructuredFields{
			Conditions:  []string{"diabetes", "hypertension"},
			Medications: []string{" metformin ", "Losartan"},
			Allergies:   []string{"peanuts"},
		},
	})
	return repo, a, b
}

func TestCompare_SetFieldsScenario(t *testing.T) {
	repo, a, b := diffFixture(t)
	d := NewDiffEngine(repo, 1)

	diff, err := d.Compare(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SetChange{Added: []string{"hypertension"}, Removed: []string{}}
	if got := diff.Sets["conditions"]; !reflect.DeepEqual(got, want) {
		t.Errorf("conditions = %+v, want %+v", got, want)
	}
	wantMeds := SetChange{Added: []string{"Losartan"}, Removed: []string{"Aspirin"}}
	if got := diff.Sets["medications"]; !reflect.DeepEqual(got, wantMeds) {
		t.Errorf("medications = %+v, want %+v", got, wantMeds)
	}
	if got := diff.Sets["allergies"]; len(got.Added) != 0 || len(got.Removed) != 0 {
		t.Errorf("allergies differ only by case, got %+v", got)
	}
}

func TestCompare_Measurements(t *testing.T) {
	repo, a, b := diffFixture(t)
	diff, err := NewDiffEngine(repo, 1).Compare(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := map[string]string{
		"weight_kg":   TendenciaDisminucion,
		"waist_cm":    TendenciaSinCambio,
		"systolic_bp": TendenciaAumento,
	}
	for field, want := range tests {
		got, ok := diff.Measurements[field]
		if !ok {
			t.Errorf("missing %s", field)
			continue
		}
		if got.Tendencia != want {
			t.Errorf("%s tendencia = %q, want %q", field, got.Tendencia, want)
		}
	}
	if got := diff.Measurements["weight_kg"]; got.Anterior != 100 || got.Actual != 98 {
		t.Errorf("weight_kg = %+v", got)
	}
	for _, field := range []string{"heart_rate", "glucose_mg_dl", "bmi"} {
		if _, ok := diff.Measurements[field]; ok {
			t.Errorf("%s is not present on both records and must be omitted", field)
		}
	}
}

func TestCompare_OrderIndependent(t *testing.T) {
	repo, a, b := diffFixture(t)
	d := NewDiffEngine(repo, 1)
	ctx := context.Background()

	ab, err := d.Compare(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ba, err := d.Compare(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ab.Anterior.ID != a.ID || ba.Anterior.ID != a.ID {
		t.Errorf("anterior must be the earlier record regardless of argument order")
	}
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("compare(a,b) and compare(b,a) differ:\n%+v\n%+v", ab, ba)
	}
}

func TestCompare_SameDayUsesCreatedAt(t *testing.T) {
	repo := newMemRepo()
	patient := uuid.New()
	day := NewDate(2026, 3, 1)
	late := repo.seed(&ClinicalRecord{PatientID: patient, RecordDate: day, CreatedAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)})
	early := repo.seed(&ClinicalRecord{PatientID: patient, RecordDate: day, CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)})

	diff, err := NewDiffEngine(repo, 1).Compare(context.Background(), late.ID, early.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff.Anterior.ID != early.ID || diff.Actual.ID != late.ID {
		t.Errorf("anterior/actual = %s/%s, want %s/%s", diff.Anterior.ID, diff.Actual.ID, early.ID, late.ID)
	}
}

func TestCompare_Errors(t *testing.T) {
	repo, a, _ := diffFixture(t)
	other := repo.seed(&ClinicalRecord{PatientID: uuid.New(), RecordDate: NewDate(2026, 1, 1)})
	d := NewDiffEngine(repo, 1)
	ctx := context.Background()

	if _, err := d.Compare(ctx, a.ID, other.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("cross-patient compare: expected ErrValidation, got %v", err)
	}
	if _, err := d.Compare(ctx, a.ID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record: expected ErrNotFound, got %v", err)
	}
}

func TestDiffSet(t *testing.T) {
	tests := []struct {
		name     string
		anterior []string
		actual   []string
		want     SetChange
	}{
		{"both empty", nil, nil, SetChange{Added: []string{}, Removed: []string{}}},
		{"all added", nil, []string{"b", "a"}, SetChange{Added: []string{"b", "a"}, Removed: []string{}}},
		{"all removed", []string{"x", "y"}, nil, SetChange{Added: []string{}, Removed: []string{"x", "y"}}},
		{"duplicates collapse", nil, []string{"Celiac", "celiac "}, SetChange{Added: []string{"Celiac"}, Removed: []string{}}},
		{"blank entries ignored", []string{" "}, []string{""}, SetChange{Added: []string{}, Removed: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := diffSet(tt.anterior, tt.actual); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("diffSet(%v, %v) = %+v, want %+v", tt.anterior, tt.actual, got, tt.want)
			}
		})
	}
}
