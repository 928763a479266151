package clinicalrecord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type RecordType string

const (
	RecordTypeInitial  RecordType = "INITIAL"
	RecordTypeFollowUp RecordType = "FOLLOW_UP"
	RecordTypeUrgent   RecordType = "URGENT"
)

// RecordTypes lists every record type in display order.
var RecordTypes = []RecordType{RecordTypeInitial, RecordTypeFollowUp, RecordTypeUrgent}

func (t RecordType) Valid() bool {
	switch t {
	case RecordTypeInitial, RecordTypeFollowUp, RecordTypeUrgent:
		return true
	}
	return false
}

const dateLayout = "2006-01-02"

// Date is a calendar day without a time zone, serialized as YYYY-MM-DD.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf takes the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: record_date must be YYYY-MM-DD: %q", ErrValidation, s)
	}
	return Date{t: t}, nil
}

func (d Date) Time() time.Time { return d.t }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) String() string { return d.t.Format(dateLayout) }
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: record_date must be a string", ErrValidation)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Measurements is the closed set of numeric observations a record may carry.
// Every value is optional.
type Measurements struct {
	WeightKg     *float64 `json:"weight_kg,omitempty"`
	HeightCm     *float64 `json:"height_cm,omitempty"`
	BMI          *float64 `json:"bmi,omitempty"`
	WaistCm      *float64 `json:"waist_cm,omitempty"`
	HipCm        *float64 `json:"hip_cm,omitempty"`
	BodyFatPct   *float64 `json:"body_fat_pct,omitempty"`
	MuscleMassKg *float64 `json:"muscle_mass_kg,omitempty"`
	SystolicBP   *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP  *float64 `json:"diastolic_bp,omitempty"`
	HeartRate    *float64 `json:"heart_rate,omitempty"`
	GlucoseMgDl  *float64 `json:"glucose_mg_dl,omitempty"`
}

// MeasurementFields lists the measurement names in their canonical order.
var MeasurementFields = []string{
	"weight_kg", "height_cm", "bmi", "waist_cm", "hip_cm", "body_fat_pct",
	"muscle_mass_kg", "systolic_bp", "diastolic_bp", "heart_rate", "glucose_mg_dl",
}

// DefaultTrendFields is the set summarized in previous-data responses.
var DefaultTrendFields = []string{
	"weight_kg", "bmi", "waist_cm", "body_fat_pct", "systolic_bp", "diastolic_bp",
}

func (m *Measurements) slot(name string) **float64 {
	switch name {
	case "weight_kg":
		return &m.WeightKg
	case "height_cm":
		return &m.HeightCm
	case "bmi":
		return &m.BMI
	case "waist_cm":
		return &m.WaistCm
	case "hip_cm":
		return &m.HipCm
	case "body_fat_pct":
		return &m.BodyFatPct
	case "muscle_mass_kg":
		return &m.MuscleMassKg
	case "systolic_bp":
		return &m.SystolicBP
	case "diastolic_bp":
		return &m.DiastolicBP
	case "heart_rate":
		return &m.HeartRate
	case "glucose_mg_dl":
		return &m.GlucoseMgDl
	}
	return nil
}

// measurementAliases maps short names accepted in trend queries to fields.
var measurementAliases = map[string]string{
	"weight":      "weight_kg",
	"height":      "height_cm",
	"waist":       "waist_cm",
	"hip":         "hip_cm",
	"body_fat":    "body_fat_pct",
	"muscle_mass": "muscle_mass_kg",
	"glucose":     "glucose_mg_dl",
}

// CanonicalField resolves a field name or alias to its measurement field.
func CanonicalField(name string) (string, bool) {
	if alias, ok := measurementAliases[name]; ok {
		return alias, true
	}
	return name, IsMeasurementField(name)
}

// IsMeasurementField reports whether name belongs to the closed field set.
func IsMeasurementField(name string) bool {
	var m Measurements
	return m.slot(name) != nil
}

// Get returns the value of the named field, nil when absent or unknown.
func (m Measurements) Get(name string) *float64 {
	if p := m.slot(name); p != nil {
		return *p
	}
	return nil
}

// Set assigns the named field. Unknown names are a validation error.
func (m *Measurements) Set(name string, v *float64) error {
	p := m.slot(name)
	if p == nil {
		return fmt.Errorf("%w: unknown measurement %q", ErrValidation, name)
	}
	*p = v
	return nil
}

func (m Measurements) Validate() error {
	for _, name := range MeasurementFields {
		v := m.Get(name)
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%w: measurement %s must be finite", ErrValidation, name)
		}
		if *v < 0 {
			return fmt.Errorf("%w: measurement %s must not be negative", ErrValidation, name)
		}
	}
	return nil
}

func (m *Measurements) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: measurements must be an object of numbers", ErrValidation)
	}
	var out Measurements
	for name, v := range raw {
		if err := out.Set(name, v); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

type ContactInfo struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

func (c *ContactInfo) empty() bool {
	return c == nil || (c.Phone == "" && c.Email == "" && c.Address == "")
}

// StructuredFields holds the non-numeric clinical content of a record.
type StructuredFields struct {
	Conditions         []string     `json:"conditions,omitempty"`
	Medications        []string     `json:"medications,omitempty"`
	Allergies          []string     `json:"allergies,omitempty"`
	ChronicConditions  []string     `json:"chronic_conditions,omitempty"`
	ContactInfo        *ContactInfo `json:"contact_info,omitempty"`
	RiskBenefitNotes   string       `json:"risk_benefit_notes,omitempty"`
	CapacityAssessment string       `json:"capacity_assessment,omitempty"`
	DietaryNotes       string       `json:"dietary_notes,omitempty"`
}

func (s *StructuredFields) UnmarshalJSON(data []byte) error {
	type plain StructuredFields
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out plain
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("%w: structured_fields: %s", ErrValidation, strings.TrimPrefix(err.Error(), "json: "))
	}
	*s = StructuredFields(out)
	return nil
}

// ClinicalRecord is one consultation in a patient's evolutive history. Only
// Measurements and StructuredFields change after creation.
type ClinicalRecord struct {
	ID                 uuid.UUID        `json:"id"`
	PatientID          uuid.UUID        `json:"patient_id"`
	NutritionistID     uuid.UUID        `json:"nutritionist_id"`
	RecordDate         Date             `json:"record_date"`
	RecordType         RecordType       `json:"record_type"`
	PreviousRecordID   *uuid.UUID       `json:"previous_record_id"`
	ConsultationReason string           `json:"consultation_reason"`
	IsScheduled        bool             `json:"is_scheduled"`
	Measurements       Measurements     `json:"measurements"`
	StructuredFields   StructuredFields `json:"structured_fields"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// compareOrder orders records by (record_date, created_at, id).
func compareOrder(a, b *ClinicalRecord) int {
	if c := a.RecordDate.Compare(b.RecordDate); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}
