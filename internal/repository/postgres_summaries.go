package repository

import (
	"context"
	"database/sql"
	"fmt"

	"skylark-data/internal/domain"
)

// PostgresSummariesRepository data summaries over postgres.
type PostgresSummariesRepository struct {
	db *sql.DB
}

func NewPostgresSummariesRepository(db *sql.DB) *PostgresSummariesRepository {
	return &PostgresSummariesRepository{db: db}
}

var _ SummariesRepository = (*PostgresSummariesRepository)(nil)

func (r *PostgresSummariesRepository) ReplaceForParticipant(ctx context.Context, participantID int64, summaries []*domain.DataSummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM data_summaries WHERE participant_id = $1`, participantID)
	if err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO data_summaries (participant_id, date, data_stream, bytes)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("failed to prepare summary insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range summaries {
		if _, err := stmt.ExecContext(ctx, participantID, s.Date, s.DataStream, s.Bytes); err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summaries: %w", err)
	}
	return nil
}

func (r *PostgresSummariesRepository) ForStudy(ctx context.Context, studyID int64) ([]*domain.DataSummary, error) {
	query := `
		SELECT ds.id, ds.participant_id, ds.date, ds.data_stream, ds.bytes
		FROM data_summaries ds
		JOIN participants p ON p.id = ds.participant_id
		WHERE p.study_id = $1
		ORDER BY ds.participant_id, ds.date, ds.data_stream
	`
	rows, err := r.db.QueryContext(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.DataSummary
	for rows.Next() {
		var s domain.DataSummary
		if err := rows.Scan(&s.ID, &s.ParticipantID, &s.Date, &s.DataStream, &s.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return summaries, nil
}
