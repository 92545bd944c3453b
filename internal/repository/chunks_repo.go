package repository

import (
	"context"
	"time"

	"skylark-data/internal/domain"
)

// ChunksFilter narrows a registry query. Zero values mean "no
// constraint" except DataStreams, which is always required by callers.
type ChunksFilter struct {
	ParticipantIDs []int64
	DataStreams    []string
	TimeStart      *time.Time
	TimeEnd        *time.Time
}

// ChunksRepository is the chunk registry surface.
type ChunksRepository interface {
	// GetByPath fetches the registry entry for an exact chunk path, or
	// sql.ErrNoRows wrapped when absent.
	GetByPath(ctx context.Context, path string) (*domain.Chunk, error)

	// Upsert inserts the chunk, or on a path conflict refreshes hash,
	// size and last_updated in place.
	Upsert(ctx context.Context, chunk *domain.Chunk) error

	// DeleteByPath drops a registry entry whose blob turned out not to
	// exist.
	DeleteByPath(ctx context.Context, path string) error

	// DeleteByPathPrefix drops every registry entry under the prefix;
	// the data-purge hook for a participant's chunk subtree.
	DeleteByPathPrefix(ctx context.Context, prefix string) (int64, error)

	// Query streams registry entries for a study matching the filter,
	// ordered by participant then time bin, calling fn for each row.
	Query(ctx context.Context, studyID int64, filter ChunksFilter, fn func(chunk *domain.Chunk) error) error

	// SummarizeByDay aggregates per-participant per-stream byte totals
	// by calendar day of the time bin, shifted into the given timezone.
	SummarizeByDay(ctx context.Context, studyID int64, tzName string) ([]*domain.DataSummary, error)
}
