package clinicalrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Stats struct {
	NutritionistID uuid.UUID          `json:"nutritionist_id"`
	ByType         map[RecordType]int `json:"by_type"`
	RecentCount    int                `json:"recent_count"`
	WindowDays     int                `json:"window_days"`
}

// StatsAggregator counts a nutritionist's records by type and within a
// trailing window of days ending today (UTC).
type StatsAggregator struct {
	repo          Repository
	defaultWindow int
	now           func() time.Time
}

func NewStatsAggregator(repo Repository, defaultWindow int, now func() time.Time) *StatsAggregator {
	if now == nil {
		now = time.Now
	}
	return &StatsAggregator{repo: repo, defaultWindow: defaultWindow, now: now}
}

// Summarize counts records by type and the records dated within the last
// window calendar days, today included. The default window applies when
// windowDays is nil.
func (s *StatsAggregator) Summarize(ctx context.Context, nutritionistID uuid.UUID, windowDays *int) (*Stats, error) {
	if nutritionistID == uuid.Nil {
		return nil, fmt.Errorf("%w: nutritionist_id is required", ErrValidation)
	}
	window := s.defaultWindow
	if windowDays != nil {
		window = *windowDays
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window_days must be positive, got %d", ErrValidation, window)
	}

	counts, err := s.repo.CountByType(ctx, nutritionistID)
	if err != nil {
		return nil, fmt.Errorf("count records by type: %w", err)
	}
	byType := make(map[RecordType]int, len(RecordTypes))
	for _, t := range RecordTypes {
		byType[t] = counts[t]
	}

	today := DateOf(s.now().UTC())
	recent, err := s.repo.CountInRange(ctx, nutritionistID, today.AddDays(-window+1), today)
	if err != nil {
		return nil, fmt.Errorf("count recent records: %w", err)
	}

	return &Stats{
		NutritionistID: nutritionistID,
		ByType:         byType,
		RecentCount:    recent,
		WindowDays:     window,
	}, nil
}
