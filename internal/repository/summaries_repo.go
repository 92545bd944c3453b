package repository

import (
	"context"

	"skylark-data/internal/domain"
)

// SummariesRepository per-day byte accounting, rebuilt from the chunk
// registry after each processing cycle and read by the usage export.
type SummariesRepository interface {
	// ReplaceForParticipant swaps in a freshly computed set of summary
	// rows for the participant.
	ReplaceForParticipant(ctx context.Context, participantID int64, summaries []*domain.DataSummary) error

	// ForStudy returns every summary row for the study's participants,
	// ordered by participant, day and stream.
	ForStudy(ctx context.Context, studyID int64) ([]*domain.DataSummary, error)
}
