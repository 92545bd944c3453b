package repository

import (
	"context"
	"database/sql"
	"fmt"

	"skylark-data/internal/domain"
)

// PostgresStudiesRepository studies over postgres.
type PostgresStudiesRepository struct {
	db *sql.DB
}

func NewPostgresStudiesRepository(db *sql.DB) *PostgresStudiesRepository {
	return &PostgresStudiesRepository{db: db}
}

var _ StudiesRepository = (*PostgresStudiesRepository)(nil)

const studyColumns = `
	id,
	object_id,
	name,
	encryption_key,
	timezone_name,
	deleted,
	manually_stopped,
	end_date,
	heartbeat_message,
	heartbeat_timer_minutes,
	created_on,
	last_updated
`

func scanStudy(row interface{ Scan(dest ...any) error }) (*domain.Study, error) {
	var s domain.Study
	err := row.Scan(
		&s.ID,
		&s.ObjectID,
		&s.Name,
		&s.EncryptionKey,
		&s.TimezoneName,
		&s.Deleted,
		&s.ManuallyStopped,
		&s.EndDate,
		&s.HeartbeatMessage,
		&s.HeartbeatTimerMinutes,
		&s.Created,
		&s.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresStudiesRepository) GetStudy(ctx context.Context, id int64) (*domain.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE id = $1`
	study, err := scanStudy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("study not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return study, nil
}

func (r *PostgresStudiesRepository) GetStudyByObjectID(ctx context.Context, objectID string) (*domain.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM studies WHERE object_id = $1`
	study, err := scanStudy(r.db.QueryRowContext(ctx, query, objectID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("study not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return study, nil
}

func (r *PostgresStudiesRepository) ListRunningStudies(ctx context.Context) ([]*domain.Study, error) {
	query := `SELECT ` + studyColumns + `
		FROM studies
		WHERE deleted = FALSE
		  AND manually_stopped = FALSE
		  AND (end_date IS NULL OR end_date >= NOW())
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	var studies []*domain.Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		studies = append(studies, study)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate studies: %w", err)
	}
	return studies, nil
}
