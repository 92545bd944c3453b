package repository

import (
	"context"

	"skylark-data/internal/domain"
)

// UploadsRepository is the upload inbox surface. The processing cycle
// pages through a participant's pending records, and retires the ones
// whose bytes landed in the registry.
type UploadsRepository interface {
	// Enqueue records a device upload for later chunking.
	Enqueue(ctx context.Context, upload *domain.UploadRecord) error

	// PendingPage returns up to limit non-retired records for the
	// participant with paths after afterPath, ordered by object store
	// path so records for the same data stream land in the same page.
	// The keyset cursor lets a caller walk the whole backlog even past
	// records it could not process.
	PendingPage(ctx context.Context, participantID int64, afterPath string, limit int) ([]*domain.UploadRecord, error)

	// Retire soft-deletes processed records by id.
	Retire(ctx context.Context, ids []int64) error

	// ParticipantsWithPending lists distinct participant ids that have
	// at least one non-retired record.
	ParticipantsWithPending(ctx context.Context) ([]int64, error)

	// CountPending returns the number of non-retired records for the
	// participant.
	CountPending(ctx context.Context, participantID int64) (int, error)
}
