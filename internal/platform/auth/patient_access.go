package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nutrition/internal/platform/db"
)

// ErrPatientAccessDenied is returned when the caller is not linked to the patient.
var ErrPatientAccessDenied = errors.New("no access to patient")

// PatientAccessChecker answers whether a nutritionist is currently linked to a patient.
type PatientAccessChecker interface {
	CanAccess(ctx context.Context, nutritionistID, patientID uuid.UUID) (bool, error)
}

// EnsurePatientAccess lets admins through and checks the link table for everyone else.
func EnsurePatientAccess(ctx context.Context, checker PatientAccessChecker, patientID uuid.UUID) error {
	if hasExactRole(ctx, RoleAdmin) {
		return nil
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrPatientAccessDenied
	}
	allowed, err := checker.CanAccess(ctx, actor, patientID)
	if err != nil {
		return fmt.Errorf("check patient access: %w", err)
	}
	if !allowed {
		return ErrPatientAccessDenied
	}
	return nil
}

func hasExactRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PatientAccessPG reads and maintains the nutritionist_patient link table.
type PatientAccessPG struct {
	pool *pgxpool.Pool
}

func NewPatientAccessPG(pool *pgxpool.Pool) *PatientAccessPG {
	return &PatientAccessPG{pool: pool}
}

func (r *PatientAccessPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *PatientAccessPG) CanAccess(ctx context.Context, nutritionistID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM nutritionist_patient
			WHERE nutritionist_id = $1 AND patient_id = $2 AND unlinked_at IS NULL
		)`, nutritionistID, patientID).Scan(&ok)
	return ok, err
}

// Link grants access, reviving a previously removed link.
func (r *PatientAccessPG) Link(ctx context.Context, nutritionistID, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nutritionist_patient (nutritionist_id, patient_id)
		VALUES ($1, $2)
		ON CONFLICT (nutritionist_id, patient_id)
		DO UPDATE SET linked_at = NOW(), unlinked_at = NULL`, nutritionistID, patientID)
	return err
}

func (r *PatientAccessPG) Unlink(ctx context.Context, nutritionistID, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE nutritionist_patient SET unlinked_at = NOW()
		WHERE nutritionist_id = $1 AND patient_id = $2 AND unlinked_at IS NULL`, nutritionistID, patientID)
	return err
}
