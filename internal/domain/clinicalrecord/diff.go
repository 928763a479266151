package clinicalrecord

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tendencia values reported for numeric changes between two records.
const (
	TendenciaAumento     = "aumento"
	TendenciaDisminucion = "disminución"
	TendenciaSinCambio   = "sin cambio"
)

// Set-valued structured fields compared by the diff.
var setFields = []string{"conditions", "medications", "allergies"}

type NumericChange struct {
	Anterior  float64 `json:"anterior"`
	Actual    float64 `json:"actual"`
	Tendencia string  `json:"tendencia"`
}

type SetChange struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

type RecordRef struct {
	ID         uuid.UUID  `json:"id"`
	RecordDate Date       `json:"record_date"`
	RecordType RecordType `json:"record_type"`
}

// Diff compares an earlier (anterior) record with a later (actual) one of the
// same patient.
type Diff struct {
	PatientID    uuid.UUID                `json:"patient_id"`
	Anterior     RecordRef                `json:"anterior"`
	Actual       RecordRef                `json:"actual"`
	Measurements map[string]NumericChange `json:"measurements"`
	Sets         map[string]SetChange     `json:"structured_fields"`
}

type DiffEngine struct {
	repo         Repository
	stabilityPct float64
}

func NewDiffEngine(repo Repository, stabilityPct float64) *DiffEngine {
	return &DiffEngine{repo: repo, stabilityPct: stabilityPct}
}

// Compare loads both records and diffs them in chronological order, whatever
// the argument order.
func (d *DiffEngine) Compare(ctx context.Context, idA, idB uuid.UUID) (*Diff, error) {
	a, err := d.repo.GetByID(ctx, idA)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", idA, err)
	}
	b, err := d.repo.GetByID(ctx, idB)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", idB, err)
	}
	return diffRecords(a, b, d.stabilityPct)
}

func diffRecords(a, b *ClinicalRecord, stabilityPct float64) (*Diff, error) {
	if a.PatientID != b.PatientID {
		return nil, fmt.Errorf("%w: records belong to different patients", ErrValidation)
	}
	anterior, actual := a, b
	if compareOrder(a, b) > 0 {
		anterior, actual = b, a
	}

	out := &Diff{
		PatientID:    anterior.PatientID,
		Anterior:     refOf(anterior),
		Actual:       refOf(actual),
		Measurements: make(map[string]NumericChange),
		Sets:         make(map[string]SetChange, len(setFields)),
	}

	for _, f := range MeasurementFields {
		prev, cur := anterior.Measurements.Get(f), actual.Measurements.Get(f)
		if prev == nil || cur == nil {
			continue
		}
		t := computeTrend(*prev, *cur, stabilityPct)
		out.Measurements[f] = NumericChange{Anterior: *prev, Actual: *cur, Tendencia: tendenciaOf(t.Direction)}
	}

	for _, f := range setFields {
		out.Sets[f] = diffSet(setValues(anterior.StructuredFields, f), setValues(actual.StructuredFields, f))
	}
	return out, nil
}

func refOf(r *ClinicalRecord) RecordRef {
	return RecordRef{ID: r.ID, RecordDate: r.RecordDate, RecordType: r.RecordType}
}

func tendenciaOf(d Direction) string {
	switch d {
	case DirectionIncreasing:
		return TendenciaAumento
	case DirectionDecreasing:
		return TendenciaDisminucion
	}
	return TendenciaSinCambio
}

func setValues(sf StructuredFields, field string) []string {
	switch field {
	case "conditions":
		return sf.Conditions
	case "medications":
		return sf.Medications
	case "allergies":
		return sf.Allergies
	}
	return nil
}

// diffSet matches entries case-insensitively after trimming. Added keeps the
// order of actual, removed the order of anterior.
func diffSet(anterior, actual []string) SetChange {
	return SetChange{
		Added:   missingFrom(actual, anterior),
		Removed: missingFrom(anterior, actual),
	}
}

// missingFrom returns the entries of src whose key is absent from other.
func missingFrom(src, other []string) []string {
	have := make(map[string]struct{}, len(other))
	for _, s := range other {
		have[setKey(s)] = struct{}{}
	}
	out := []string{}
	for _, s := range src {
		k := setKey(s)
		if k == "" {
			continue
		}
		if _, ok := have[k]; ok {
			continue
		}
		have[k] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func setKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
