package clinicalrecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ClassifyInput struct {
	PatientID          uuid.UUID
	ConsultationReason string
	IsScheduled        bool
	RequestedType      RecordType
}

type Classification struct {
	RecordType       RecordType `json:"record_type"`
	PreviousRecordID *uuid.UUID `json:"previous_record_id"`

	requested RecordType
}

// Classifier decides the type of an incoming consultation from the patient's
// latest record and the urgency lexicon.
type Classifier struct {
	repo    Repository
	lexicon *Lexicon
}

func NewClassifier(repo Repository, lexicon *Lexicon) *Classifier {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Classifier{repo: repo, lexicon: lexicon}
}

func (c *Classifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	if in.PatientID == uuid.Nil {
		return Classification{}, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}

	latest, err := c.repo.LatestByPatient(ctx, in.PatientID)
	if errors.Is(err, ErrNotFound) {
		return Classification{RecordType: RecordTypeInitial, requested: in.RequestedType}, nil
	}
	if err != nil {
		return Classification{}, fmt.Errorf("load latest record: %w", err)
	}

	prev := latest.ID
	return Classification{
		RecordType:       c.typeFor(in),
		PreviousRecordID: &prev,
		requested:        in.RequestedType,
	}, nil
}

// typeFor picks the type of a record that continues an existing chain.
func (c *Classifier) typeFor(in ClassifyInput) RecordType {
	if !in.IsScheduled && c.lexicon.Matches(in.ConsultationReason) {
		return RecordTypeUrgent
	}
	switch in.RequestedType {
	case RecordTypeFollowUp, RecordTypeUrgent:
		return in.RequestedType
	}
	return RecordTypeFollowUp
}
