package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"skylark-data/internal/domain"
)

// PostgresUploadsRepository upload inbox over postgres.
type PostgresUploadsRepository struct {
	db *sql.DB
}

func NewPostgresUploadsRepository(db *sql.DB) *PostgresUploadsRepository {
	return &PostgresUploadsRepository{db: db}
}

var _ UploadsRepository = (*PostgresUploadsRepository)(nil)

func (r *PostgresUploadsRepository) Enqueue(ctx context.Context, upload *domain.UploadRecord) error {
	query := `
		INSERT INTO upload_inbox (participant_id, study_id, s3_path, os_type, deleted, created_on)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		upload.ParticipantID, upload.StudyID, upload.Path, upload.OSType,
	).Scan(&upload.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue upload: %w", err)
	}
	return nil
}

func (r *PostgresUploadsRepository) PendingPage(ctx context.Context, participantID int64, afterPath string, limit int) ([]*domain.UploadRecord, error) {
	query := `
		SELECT id, participant_id, study_id, s3_path, os_type, deleted, created_on
		FROM upload_inbox
		WHERE participant_id = $1 AND deleted = FALSE AND s3_path > $2
		ORDER BY s3_path
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, participantID, afterPath, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*domain.UploadRecord
	for rows.Next() {
		var u domain.UploadRecord
		err := rows.Scan(&u.ID, &u.ParticipantID, &u.StudyID, &u.Path, &u.OSType, &u.Deleted, &u.Created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", err)
	}
	return uploads, nil
}

func (r *PostgresUploadsRepository) Retire(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE upload_inbox SET deleted = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to retire uploads: %w", err)
	}
	return nil
}

func (r *PostgresUploadsRepository) ParticipantsWithPending(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT participant_id FROM upload_inbox WHERE deleted = FALSE`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participant ids: %w", err)
	}
	return ids, nil
}

func (r *PostgresUploadsRepository) CountPending(ctx context.Context, participantID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_inbox WHERE participant_id = $1 AND deleted = FALSE`,
		participantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending uploads: %w", err)
	}
	return count, nil
}
