package clinicalrecord

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists clinical records. Lookups that find nothing return
// ErrNotFound.
type Repository interface {
	Create(ctx context.Context, r *ClinicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)
	// LatestByPatient returns the newest record by (record_date, created_at).
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*ClinicalRecord, error)
	// ListByPatient pages through a patient's records newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error)
	UpdatePayload(ctx context.Context, id uuid.UUID, m Measurements, sf StructuredFields, updatedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	HasSuccessor(ctx context.Context, id uuid.UUID) (bool, error)
	// RelinkSuccessors points every record whose predecessor is from at to.
	RelinkSuccessors(ctx context.Context, from, to uuid.UUID) (int, error)
	CountByType(ctx context.Context, nutritionistID uuid.UUID) (map[RecordType]int, error)
	// CountInRange counts records with record_date in [from, to].
	CountInRange(ctx context.Context, nutritionistID uuid.UUID, from, to Date) (int, error)
	// LockPatient serializes writers of one patient's chain until the
	// surrounding transaction ends.
	LockPatient(ctx context.Context, patientID uuid.UUID) error
	// RunInTx runs fn in one transaction; repository calls made with the
	// ctx passed to fn join it.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
