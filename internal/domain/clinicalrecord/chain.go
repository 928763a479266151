package clinicalrecord

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// walkChain returns the patient's chain newest first, starting at the latest
// record and following previous_record_id. At most maxDepth records are read;
// a cycle or a predecessor outside the window ends the walk early.
func walkChain(ctx context.Context, repo Repository, patientID uuid.UUID, maxDepth int, logger zerolog.Logger) ([]*ClinicalRecord, error) {
	records, _, err := repo.ListByPatient(ctx, patientID, maxDepth, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	byID := make(map[uuid.UUID]*ClinicalRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	chain := make([]*ClinicalRecord, 0, len(records))
	visited := make(map[uuid.UUID]struct{}, len(records))
	for cur := records[0]; cur != nil; {
		if _, seen := visited[cur.ID]; seen {
			logger.Error().
				Str("patient_id", patientID.String()).
				Str("record_id", cur.ID.String()).
				Msg("cycle in clinical record chain, using partial history")
			break
		}
		visited[cur.ID] = struct{}{}
		chain = append(chain, cur)

		if cur.PreviousRecordID == nil {
			break
		}
		next, ok := byID[*cur.PreviousRecordID]
		if !ok {
			evt := logger.Warn()
			if len(records) >= maxDepth {
				evt = logger.Debug()
			}
			evt.Str("patient_id", patientID.String()).
				Str("missing_record_id", cur.PreviousRecordID.String()).
				Int("depth", len(chain)).
				Msg("clinical record chain walk stopped before the initial record")
			break
		}
		cur = next
	}
	return chain, nil
}
