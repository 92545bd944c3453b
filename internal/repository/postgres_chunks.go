package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"skylark-data/internal/domain"
)

// PostgresChunksRepository chunk registry over postgres.
type PostgresChunksRepository struct {
	db *sql.DB
}

func NewPostgresChunksRepository(db *sql.DB) *PostgresChunksRepository {
	return &PostgresChunksRepository{db: db}
}

var _ ChunksRepository = (*PostgresChunksRepository)(nil)

const chunkColumns = `
	id,
	study_id,
	participant_id,
	data_stream,
	time_bin,
	chunk_path,
	chunk_hash,
	file_size,
	survey_id,
	last_updated
`

func scanChunk(row interface{ Scan(dest ...any) error }) (*domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(
		&c.ID,
		&c.StudyID,
		&c.ParticipantID,
		&c.DataStream,
		&c.TimeBin,
		&c.Path,
		&c.Hash,
		&c.Size,
		&c.SurveyID,
		&c.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresChunksRepository) GetByPath(ctx context.Context, path string) (*domain.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunk_registry WHERE chunk_path = $1`

	chunk, err := scanChunk(r.db.QueryRowContext(ctx, query, path))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chunk not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (r *PostgresChunksRepository) Upsert(ctx context.Context, chunk *domain.Chunk) error {
	query := `
		INSERT INTO chunk_registry
			(study_id, participant_id, data_stream, time_bin, chunk_path,
			 chunk_hash, file_size, survey_id, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (chunk_path) DO UPDATE SET
			chunk_hash = EXCLUDED.chunk_hash,
			file_size = EXCLUDED.file_size,
			last_updated = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		chunk.StudyID,
		chunk.ParticipantID,
		chunk.DataStream,
		chunk.TimeBin,
		chunk.Path,
		chunk.Hash,
		chunk.Size,
		chunk.SurveyID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func (r *PostgresChunksRepository) DeleteByPath(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunk_registry WHERE chunk_path = $1`, path)
	if err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

func (r *PostgresChunksRepository) DeleteByPathPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM chunk_registry WHERE chunk_path LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks by prefix: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted chunks: %w", err)
	}
	return deleted, nil
}

func (r *PostgresChunksRepository) Query(ctx context.Context, studyID int64, filter ChunksFilter, fn func(chunk *domain.Chunk) error) error {
	conditions := []string{"study_id = $1"}
	args := []any{studyID}

	if len(filter.ParticipantIDs) > 0 {
		args = append(args, pq.Array(filter.ParticipantIDs))
		conditions = append(conditions, fmt.Sprintf("participant_id = ANY($%d)", len(args)))
	}
	if len(filter.DataStreams) > 0 {
		args = append(args, pq.Array(filter.DataStreams))
		conditions = append(conditions, fmt.Sprintf("data_stream = ANY($%d)", len(args)))
	}
	if filter.TimeStart != nil {
		args = append(args, *filter.TimeStart)
		conditions = append(conditions, fmt.Sprintf("time_bin >= $%d", len(args)))
	}
	if filter.TimeEnd != nil {
		args = append(args, *filter.TimeEnd)
		conditions = append(conditions, fmt.Sprintf("time_bin <= $%d", len(args)))
	}

	query := `SELECT ` + chunkColumns + `
		FROM chunk_registry
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY participant_id, time_bin`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return nil
}

func (r *PostgresChunksRepository) SummarizeByDay(ctx context.Context, studyID int64, tzName string) ([]*domain.DataSummary, error) {
	query := `
		SELECT
			participant_id,
			(time_bin AT TIME ZONE 'UTC' AT TIME ZONE $2)::date AS day,
			data_stream,
			SUM(file_size) AS bytes
		FROM chunk_registry
		WHERE study_id = $1
		GROUP BY participant_id, day, data_stream
		ORDER BY participant_id, day, data_stream
	`
	rows, err := r.db.QueryContext(ctx, query, studyID, tzName)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize chunks: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.DataSummary
	for rows.Next() {
		var s domain.DataSummary
		if err := rows.Scan(&s.ParticipantID, &s.Date, &s.DataStream, &s.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return summaries, nil
}
