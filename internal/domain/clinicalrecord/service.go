package clinicalrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nutrition/internal/platform/db"
	"github.com/ehr/nutrition/internal/platform/telemetry"
)

// KeyValueCache stores previous-data responses. Any Get error is a miss.
type KeyValueCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Config struct {
	StabilityPct    float64
	ChainMaxDepth   int
	StatsWindowDays int
	CacheTTL        time.Duration
}

type Option func(*Service)

func WithCache(c KeyValueCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo       Repository
	classifier *Classifier
	linker     *Linker
	trends     *TrendAnalyzer
	diff       *DiffEngine
	stats      *StatsAggregator
	cache      KeyValueCache
	cacheTTL   time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewService(repo Repository, lexicon *Lexicon, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.ChainMaxDepth <= 0 {
		cfg.ChainMaxDepth = 500
	}
	if cfg.StatsWindowDays <= 0 {
		cfg.StatsWindowDays = 30
	}
	s := &Service{repo: repo, cacheTTL: cfg.CacheTTL, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.classifier = NewClassifier(repo, lexicon)
	s.linker = NewLinker(repo, s.classifier, s.now, logger)
	s.trends = NewTrendAnalyzer(repo, cfg.StabilityPct, cfg.ChainMaxDepth, logger)
	s.diff = NewDiffEngine(repo, cfg.StabilityPct)
	s.stats = NewStatsAggregator(repo, cfg.StatsWindowDays, s.now)
	return s
}

// DetectType classifies a prospective consultation without persisting it.
func (s *Service) DetectType(ctx context.Context, in ClassifyInput) (Classification, error) {
	return s.classifier.Classify(ctx, in)
}

func (s *Service) GetPreviousData(ctx context.Context, patientID uuid.UUID) (*PreviousData, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	key := previousDataKey(ctx, patientID)
	if s.cache != nil {
		var cached PreviousData
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	data, err := s.trends.PreviousData(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load previous data: %w", err)
	}
	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("cache previous data")
		}
	}
	return data, nil
}

type CreateRecordInput struct {
	PatientID          uuid.UUID
	NutritionistID     uuid.UUID
	RecordDate         Date
	ConsultationReason string
	IsScheduled        bool
	RequestedType      RecordType
	Measurements       Measurements
	StructuredFields   StructuredFields
}

// CreateEvolutiveRecord classifies the consultation and appends it to the
// patient's chain. A zero RecordDate means today (UTC).
func (s *Service) CreateEvolutiveRecord(ctx context.Context, in CreateRecordInput) (*ClinicalRecord, error) {
	if in.NutritionistID == uuid.Nil {
		return nil, fmt.Errorf("%w: nutritionist_id is required", ErrValidation)
	}
	today := DateOf(s.now().UTC())
	if in.RecordDate.IsZero() {
		in.RecordDate = today
	}
	if in.RecordDate.After(today) {
		return nil, fmt.Errorf("%w: record_date %s is in the future", ErrValidation, in.RecordDate)
	}
	if err := in.Measurements.Validate(); err != nil {
		return nil, err
	}

	cls, err := s.classifier.Classify(ctx, ClassifyInput{
		PatientID:          in.PatientID,
		ConsultationReason: in.ConsultationReason,
		IsScheduled:        in.IsScheduled,
		RequestedType:      in.RequestedType,
	})
	if err != nil {
		return nil, err
	}

	rec, err := s.linker.Attach(ctx, &ClinicalRecord{
		PatientID:          in.PatientID,
		NutritionistID:     in.NutritionistID,
		RecordDate:         in.RecordDate,
		ConsultationReason: in.ConsultationReason,
		IsScheduled:        in.IsScheduled,
		Measurements:       in.Measurements,
		StructuredFields:   in.StructuredFields,
	}, cls)
	if err != nil {
		return nil, err
	}

	telemetry.RecordCreated(string(rec.RecordType))
	s.invalidate(ctx, rec.PatientID)
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("patient_id", rec.PatientID.String()).
		Str("record_type", string(rec.RecordType)).
		Msg("clinical record created")
	return rec, nil
}

func (s *Service) CompareRecords(ctx context.Context, idA, idB uuid.UUID) (*Diff, error) {
	return s.diff.Compare(ctx, idA, idB)
}

// GetSeguimientoStats summarizes a nutritionist's follow-up activity.
func (s *Service) GetSeguimientoStats(ctx context.Context, nutritionistID uuid.UUID, windowDays *int) (*Stats, error) {
	return s.stats.Summarize(ctx, nutritionistID, windowDays)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListPatientRecords(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ComputeTrends(ctx context.Context, patientID uuid.UUID, fields []string) (map[string]TrendResult, error) {
	return s.trends.ComputeTrends(ctx, patientID, fields)
}

// PayloadUpdate replaces the parts that are non-nil.
type PayloadUpdate struct {
	Measurements     *Measurements
	StructuredFields *StructuredFields
}

// UpdateRecordPayload lets the authoring nutritionist edit a record until a
// later record points at it.
func (s *Service) UpdateRecordPayload(ctx context.Context, id, actor uuid.UUID, upd PayloadUpdate) (*ClinicalRecord, error) {
	if upd.Measurements != nil {
		if err := upd.Measurements.Validate(); err != nil {
			return nil, err
		}
	}

	var rec *ClinicalRecord
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.lockedRecord(ctx, id); err != nil {
			return err
		}
		if rec.NutritionistID != actor {
			return fmt.Errorf("%w: only the authoring nutritionist may edit a record", ErrPermissionDenied)
		}
		superseded, err := s.repo.HasSuccessor(ctx, id)
		if err != nil {
			return err
		}
		if superseded {
			return ErrRecordSuperseded
		}

		if upd.Measurements != nil {
			rec.Measurements = *upd.Measurements
		}
		if upd.StructuredFields != nil {
			rec.StructuredFields = *upd.StructuredFields
		}
		rec.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		return s.repo.UpdatePayload(ctx, id, rec.Measurements, rec.StructuredFields, rec.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, rec.PatientID)
	return rec, nil
}

// DeleteRecord removes a record and points its successors at its predecessor.
// An initial record can only be removed while nothing follows it.
func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	var (
		rec      *ClinicalRecord
		relinked int
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.lockedRecord(ctx, id); err != nil {
			return err
		}
		if rec.PreviousRecordID == nil {
			hasNext, err := s.repo.HasSuccessor(ctx, id)
			if err != nil {
				return err
			}
			if hasNext {
				return fmt.Errorf("%w: the initial record cannot be deleted while later records exist", ErrRecordSuperseded)
			}
		} else if relinked, err = s.repo.RelinkSuccessors(ctx, id, *rec.PreviousRecordID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	telemetry.ChainRepaired(relinked)
	s.invalidate(ctx, rec.PatientID)
	s.logger.Info().
		Str("record_id", id.String()).
		Str("patient_id", rec.PatientID.String()).
		Int("relinked", relinked).
		Msg("clinical record deleted")
	return nil
}

// lockedRecord takes the chain lock of the record's patient and reads the
// record again under it.
func (s *Service) lockedRecord(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.LockPatient(ctx, rec.PatientID); err != nil {
		return nil, fmt.Errorf("lock patient chain: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) invalidate(ctx context.Context, patientID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, previousDataKey(ctx, patientID)); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("invalidate previous data")
	}
}

func previousDataKey(ctx context.Context, patientID uuid.UUID) string {
	return fmt.Sprintf("previous-data:%s:%s", db.TenantFromContext(ctx), patientID)
}
