package clinicalrecord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nutrition/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordColumns = `id, patient_id, nutritionist_id, record_date, record_type, previous_record_id,
	consultation_reason, is_scheduled, measurements, structured_fields, created_at, updated_at`

const newestFirst = `ORDER BY record_date DESC, created_at DESC, id DESC`

func (r *recordRepoPG) Create(ctx context.Context, rec *ClinicalRecord) error {
	m, sf, err := encodePayload(rec.Measurements, rec.StructuredFields)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.PatientID, rec.NutritionistID, rec.RecordDate.Time(), string(rec.RecordType), rec.PreviousRecordID,
		rec.ConsultationReason, rec.IsScheduled, m, sf, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordColumns+` FROM clinical_record WHERE id = $1`, id))
}

func (r *recordRepoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*ClinicalRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM clinical_record WHERE patient_id = $1 `+newestFirst+` LIMIT 1`, patientID))
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordColumns+` FROM clinical_record WHERE patient_id = $1 `+newestFirst+` LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ClinicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *recordRepoPG) UpdatePayload(ctx context.Context, id uuid.UUID, m Measurements, sf StructuredFields, updatedAt time.Time) error {
	mj, sfj, err := encodePayload(m, sf)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record SET measurements = $2, structured_fields = $3, updated_at = $4
		WHERE id = $1`, id, mj, sfj, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_record WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) HasSuccessor(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clinical_record WHERE previous_record_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *recordRepoPG) RelinkSuccessors(ctx context.Context, from, to uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record SET previous_record_id = $2, updated_at = NOW()
		WHERE previous_record_id = $1`, from, to)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *recordRepoPG) CountByType(ctx context.Context, nutritionistID uuid.UUID) (map[RecordType]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT record_type, COUNT(*) FROM clinical_record
		WHERE nutritionist_id = $1
		GROUP BY record_type`, nutritionistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[RecordType]int, len(RecordTypes))
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[RecordType(t)] = n
	}
	return counts, rows.Err()
}

func (r *recordRepoPG) CountInRange(ctx context.Context, nutritionistID uuid.UUID, from, to Date) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM clinical_record
		WHERE nutritionist_id = $1 AND record_date BETWEEN $2 AND $3`,
		nutritionistID, from.Time(), to.Time()).Scan(&n)
	return n, err
}

func (r *recordRepoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, patientID.String())
	return err
}

func (r *recordRepoPG) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, r.pool, fn)
}

func encodePayload(m Measurements, sf StructuredFields) ([]byte, []byte, error) {
	mj, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("encode measurements: %w", err)
	}
	sfj, err := json.Marshal(sf)
	if err != nil {
		return nil, nil, fmt.Errorf("encode structured fields: %w", err)
	}
	return mj, sfj, nil
}

func scanRecord(row pgx.Row) (*ClinicalRecord, error) {
	var (
		rec        ClinicalRecord
		recordDate time.Time
		recordType string
		mj, sfj    []byte
	)
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.NutritionistID, &recordDate, &recordType, &rec.PreviousRecordID,
		&rec.ConsultationReason, &rec.IsScheduled, &mj, &sfj, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.RecordDate = DateOf(recordDate)
	rec.RecordType = RecordType(recordType)
	if err := json.Unmarshal(mj, &rec.Measurements); err != nil {
		return nil, fmt.Errorf("decode measurements of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(sfj, &rec.StructuredFields); err != nil {
		return nil, fmt.Errorf("decode structured fields of %s: %w", rec.ID, err)
	}
	return &rec, nil
}
