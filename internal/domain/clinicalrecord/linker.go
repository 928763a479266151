package clinicalrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nutrition/internal/platform/telemetry"
)

// Linker persists a classified record behind its predecessor. The latest
// record is re-read inside the write transaction; when it moved since
// classification the record is classified again and the write retried once.
type Linker struct {
	repo       Repository
	classifier *Classifier
	now        func() time.Time
	logger     zerolog.Logger
}

func NewLinker(repo Repository, classifier *Classifier, now func() time.Time, logger zerolog.Logger) *Linker {
	if now == nil {
		now = time.Now
	}
	return &Linker{repo: repo, classifier: classifier, now: now, logger: logger}
}

func (l *Linker) Attach(ctx context.Context, rec *ClinicalRecord, cls Classification) (*ClinicalRecord, error) {
	if err := l.checkOwner(ctx, rec, cls.PreviousRecordID); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err := l.repo.RunInTx(ctx, func(ctx context.Context) error {
			return l.persist(ctx, rec, cls)
		})
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errChainMoved) {
			return nil, err
		}

		evt := l.logger.Warn().
			Str("patient_id", rec.PatientID.String()).
			Int("attempt", attempt+1)
		if attempt >= 1 {
			telemetry.ChainRace(telemetry.RaceExhausted)
			evt.Msg("latest record moved again, giving up")
			return nil, ErrConflictRetryExhausted
		}
		telemetry.ChainRace(telemetry.RaceRetried)
		evt.Msg("latest record moved during attach, reclassifying")

		if cls, err = l.classifier.Classify(ctx, retryInput(rec, cls)); err != nil {
			return nil, err
		}
	}
}

// checkOwner rejects a predecessor that belongs to another patient. A
// predecessor that no longer exists is left to the chain check in persist.
func (l *Linker) checkOwner(ctx context.Context, rec *ClinicalRecord, prevID *uuid.UUID) error {
	if prevID == nil {
		return nil
	}
	prev, err := l.repo.GetByID(ctx, *prevID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load predecessor: %w", err)
	}
	if prev.PatientID != rec.PatientID {
		return fmt.Errorf("%w: predecessor %s belongs to another patient", ErrChainInvariant, prev.ID)
	}
	return nil
}

// retryInput rebuilds the classification request from the record itself, so
// classifications built by hand are retried against the right patient.
func retryInput(rec *ClinicalRecord, cls Classification) ClassifyInput {
	requested := cls.requested
	if requested == "" {
		requested = cls.RecordType
	}
	return ClassifyInput{
		PatientID:          rec.PatientID,
		ConsultationReason: rec.ConsultationReason,
		IsScheduled:        rec.IsScheduled,
		RequestedType:      requested,
	}
}

func (l *Linker) persist(ctx context.Context, rec *ClinicalRecord, cls Classification) error {
	if err := l.repo.LockPatient(ctx, rec.PatientID); err != nil {
		return fmt.Errorf("lock patient chain: %w", err)
	}
	latest, err := l.repo.LatestByPatient(ctx, rec.PatientID)
	switch {
	case errors.Is(err, ErrNotFound):
		latest = nil
	case err != nil:
		return fmt.Errorf("load latest record: %w", err)
	}

	if !isPredecessor(latest, cls.PreviousRecordID) {
		return errChainMoved
	}
	if err := l.link(rec, cls, latest); err != nil {
		return err
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("insert clinical record: %w", err)
	}
	return nil
}

func isPredecessor(latest *ClinicalRecord, prev *uuid.UUID) bool {
	if latest == nil || prev == nil {
		return latest == nil && prev == nil
	}
	return latest.ID == *prev
}

// link fills the chain fields of rec so that it sorts strictly after prev.
func (l *Linker) link(rec *ClinicalRecord, cls Classification, prev *ClinicalRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.RecordType = cls.RecordType
	rec.PreviousRecordID = cls.PreviousRecordID
	rec.CreatedAt = l.now().UTC().Truncate(time.Microsecond)

	if prev != nil {
		if prev.PatientID != rec.PatientID {
			return fmt.Errorf("%w: predecessor %s belongs to another patient", ErrChainInvariant, prev.ID)
		}
		if prev.ID == rec.ID {
			return fmt.Errorf("%w: record cannot precede itself", ErrChainInvariant)
		}
		if rec.RecordDate.Before(prev.RecordDate) {
			return fmt.Errorf("%w: record_date %s is before the latest record (%s)",
				ErrValidation, rec.RecordDate, prev.RecordDate)
		}
		if rec.RecordDate.Equal(prev.RecordDate) && !rec.CreatedAt.After(prev.CreatedAt) {
			rec.CreatedAt = prev.CreatedAt.Add(time.Microsecond)
		}
	}
	rec.UpdatedAt = rec.CreatedAt
	return nil
}
