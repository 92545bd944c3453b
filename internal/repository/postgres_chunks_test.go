package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skylark-data/internal/domain"
)

func setupMockChunksDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresChunksRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresChunksRepository(db)
}

func chunkRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "study_id", "participant_id", "data_stream", "time_bin",
		"chunk_path", "chunk_hash", "file_size", "survey_id", "last_updated",
	})
}

func TestGetChunkByPath_Success(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	bin := time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)
	path := "CHUNKED_DATA/5873fe38644ad7557b168e43/q41aozrx/gps/2023-11-14T22_00_00+00_00.csv"

	mock.ExpectQuery(`SELECT`).
		WithArgs(path).
		WillReturnRows(chunkRows().AddRow(
			int64(1), int64(10), int64(20), "gps", bin,
			path, "hash==", int64(4096), nil, time.Now(),
		))

	chunk, err := repo.GetByPath(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, int64(20), chunk.ParticipantID)
	assert.Equal(t, "gps", chunk.DataStream)
	assert.Equal(t, bin, chunk.TimeBin)
	assert.False(t, chunk.SurveyID.Valid)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChunkByPath_NotFound(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("CHUNKED_DATA/x/y/gps/z.csv").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByPath(context.Background(), "CHUNKED_DATA/x/y/gps/z.csv")

	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunk(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	chunk := &domain.Chunk{
		StudyID:       10,
		ParticipantID: 20,
		DataStream:    "accelerometer",
		TimeBin:       time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC),
		Path:          "CHUNKED_DATA/s/p/accelerometer/2023-11-14T22_00_00+00_00.csv",
		Hash:          "hash==",
		Size:          1234,
	}

	mock.ExpectExec(`INSERT INTO chunk_registry`).
		WithArgs(chunk.StudyID, chunk.ParticipantID, chunk.DataStream,
			chunk.TimeBin, chunk.Path, chunk.Hash, chunk.Size, chunk.SurveyID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), chunk))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteChunkByPath(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM chunk_registry`).
		WithArgs("CHUNKED_DATA/s/p/gps/x.csv").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteByPath(context.Background(), "CHUNKED_DATA/s/p/gps/x.csv"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteChunksByPathPrefix(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM chunk_registry WHERE chunk_path LIKE`).
		WithArgs("CHUNKED_DATA/s/p/").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteByPathPrefix(context.Background(), "CHUNKED_DATA/s/p/")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryChunks_OrderedCallback(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	bin1 := time.Date(2023, 11, 14, 21, 0, 0, 0, time.UTC)
	bin2 := time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(chunkRows().
			AddRow(int64(1), int64(10), int64(20), "gps", bin1, "p1", "h1", int64(1), nil, time.Now()).
			AddRow(int64(2), int64(10), int64(20), "gps", bin2, "p2", "h2", int64(2), nil, time.Now()))

	var paths []string
	err := repo.Query(context.Background(), 10, ChunksFilter{
		ParticipantIDs: []int64{20},
		DataStreams:    []string{"gps"},
	}, func(chunk *domain.Chunk) error {
		paths = append(paths, chunk.Path)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, paths)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryChunks_CallbackErrorStopsIteration(t *testing.T) {
	db, mock, repo := setupMockChunksDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(chunkRows().
			AddRow(int64(1), int64(10), int64(20), "gps",
				time.Now(), "p1", "h1", int64(1), nil, time.Now()))

	wantErr := assert.AnError
	err := repo.Query(context.Background(), 10, ChunksFilter{}, func(*domain.Chunk) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}
