package clinicalrecord

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// TrendResult compares the two most recent values of one measurement.
// Percent is nil when the previous value is zero.
type TrendResult struct {
	Previous  float64   `json:"previous"`
	Current   float64   `json:"current"`
	Delta     float64   `json:"delta"`
	Percent   *float64  `json:"percent"`
	Direction Direction `json:"direction"`
}

type StaticFields struct {
	Allergies         []string     `json:"allergies"`
	ChronicConditions []string     `json:"chronic_conditions"`
	ContactInfo       *ContactInfo `json:"contact_info"`
}

// PreviousData is what a nutritionist sees before starting a new consultation.
type PreviousData struct {
	LastRecord   *ClinicalRecord        `json:"last_record"`
	StaticFields StaticFields           `json:"static_fields"`
	Trends       map[string]TrendResult `json:"trends"`
}

type TrendAnalyzer struct {
	repo         Repository
	stabilityPct float64
	maxDepth     int
	logger       zerolog.Logger
}

func NewTrendAnalyzer(repo Repository, stabilityPct float64, maxDepth int, logger zerolog.Logger) *TrendAnalyzer {
	return &TrendAnalyzer{repo: repo, stabilityPct: stabilityPct, maxDepth: maxDepth, logger: logger}
}

// ComputeTrends reports a trend for each requested field with at least two
// values in the chain, keyed by the name as requested. An empty field list
// means DefaultTrendFields.
func (a *TrendAnalyzer) ComputeTrends(ctx context.Context, patientID uuid.UUID, fields []string) (map[string]TrendResult, error) {
	if len(fields) == 0 {
		fields = DefaultTrendFields
	}
	for _, f := range fields {
		if _, ok := CanonicalField(f); !ok {
			return nil, fmt.Errorf("%w: unknown measurement %q", ErrValidation, f)
		}
	}
	chain, err := walkChain(ctx, a.repo, patientID, a.maxDepth, a.logger)
	if err != nil {
		return nil, err
	}
	return trendsOf(chain, fields, a.stabilityPct), nil
}

func (a *TrendAnalyzer) PreviousData(ctx context.Context, patientID uuid.UUID) (*PreviousData, error) {
	chain, err := walkChain(ctx, a.repo, patientID, a.maxDepth, a.logger)
	if err != nil {
		return nil, err
	}
	out := &PreviousData{
		StaticFields: staticFieldsOf(chain),
		Trends:       trendsOf(chain, DefaultTrendFields, a.stabilityPct),
	}
	if len(chain) > 0 {
		out.LastRecord = chain[0]
	}
	return out, nil
}

// staticFieldsOf takes each field from the newest record that populates it.
func staticFieldsOf(chain []*ClinicalRecord) StaticFields {
	out := StaticFields{Allergies: []string{}, ChronicConditions: []string{}}
	var haveAllergies, haveChronic bool
	for _, r := range chain {
		sf := r.StructuredFields
		if !haveAllergies && len(sf.Allergies) > 0 {
			out.Allergies, haveAllergies = sf.Allergies, true
		}
		if !haveChronic && len(sf.ChronicConditions) > 0 {
			out.ChronicConditions, haveChronic = sf.ChronicConditions, true
		}
		if out.ContactInfo == nil && !sf.ContactInfo.empty() {
			out.ContactInfo = sf.ContactInfo
		}
	}
	return out
}

// trendsOf expects chain newest first.
func trendsOf(chain []*ClinicalRecord, fields []string, stabilityPct float64) map[string]TrendResult {
	out := make(map[string]TrendResult, len(fields))
	for _, f := range fields {
		field, _ := CanonicalField(f)
		var values []float64
		for _, r := range chain {
			if v := r.Measurements.Get(field); v != nil {
				values = append(values, *v)
				if len(values) == 2 {
					break
				}
			}
		}
		if len(values) == 2 {
			out[f] = computeTrend(values[1], values[0], stabilityPct)
		}
	}
	return out
}

func computeTrend(previous, current, stabilityPct float64) TrendResult {
	t := TrendResult{Previous: previous, Current: current, Delta: current - previous}
	if previous != 0 {
		pct := t.Delta / previous * 100
		t.Percent = &pct
	}
	t.Direction = directionOf(t.Delta, t.Percent, stabilityPct)
	return t
}

// directionOf is stable while |percent| <= stabilityPct. Without a percent
// the sign of delta decides.
func directionOf(delta float64, percent *float64, stabilityPct float64) Direction {
	if percent != nil && math.Abs(*percent) <= stabilityPct {
		return DirectionStable
	}
	switch {
	case delta > 0:
		return DirectionIncreasing
	case delta < 0:
		return DirectionDecreasing
	}
	return DirectionStable
}
