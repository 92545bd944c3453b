package repository

import (
	"context"

	"skylark-data/internal/domain"
)

// StudiesRepository study lookups. Studies are small and read-mostly;
// everything that mutates them lives in the admin surface, not here.
type StudiesRepository interface {
	GetStudy(ctx context.Context, id int64) (*domain.Study, error)
	GetStudyByObjectID(ctx context.Context, objectID string) (*domain.Study, error)

	// ListRunningStudies returns studies that are neither deleted,
	// manually stopped, nor past their end date.
	ListRunningStudies(ctx context.Context) ([]*domain.Study, error)
}
