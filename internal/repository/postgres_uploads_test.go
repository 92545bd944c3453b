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

func setupMockUploadsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresUploadsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresUploadsRepository(db)
}

func TestEnqueueUpload(t *testing.T) {
	db, mock, repo := setupMockUploadsDB(t)
	defer db.Close()

	upload := &domain.UploadRecord{
		ParticipantID: 20,
		StudyID:       10,
		Path:          "5873fe38644ad7557b168e43/q41aozrx/gps/1700000000000.csv",
		OSType:        domain.AndroidAPI,
	}

	mock.ExpectQuery(`INSERT INTO upload_inbox`).
		WithArgs(upload.ParticipantID, upload.StudyID, upload.Path, upload.OSType).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(55)))

	require.NoError(t, repo.Enqueue(context.Background(), upload))
	assert.Equal(t, int64(55), upload.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingPage(t *testing.T) {
	db, mock, repo := setupMockUploadsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "participant_id", "study_id", "s3_path", "os_type", "deleted", "created_on",
	}).
		AddRow(int64(1), int64(20), int64(10), "s/p/gps/1.csv", domain.AndroidAPI, false, time.Now()).
		AddRow(int64(2), int64(20), int64(10), "s/p/gps/2.csv", domain.AndroidAPI, false, time.Now())

	mock.ExpectQuery(`SELECT`).
		WithArgs(int64(20), "s/p/gps/0.csv", 100).
		WillReturnRows(rows)

	uploads, err := repo.PendingPage(context.Background(), 20, "s/p/gps/0.csv", 100)

	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "s/p/gps/1.csv", uploads[0].Path)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireUploads(t *testing.T) {
	db, mock, repo := setupMockUploadsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE upload_inbox SET deleted = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.Retire(context.Background(), []int64{1, 2, 3}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireUploads_EmptyIsNoop(t *testing.T) {
	db, mock, repo := setupMockUploadsDB(t)
	defer db.Close()

	require.NoError(t, repo.Retire(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParticipantsWithPending(t *testing.T) {
	db, mock, repo := setupMockUploadsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT participant_id`).
		WillReturnRows(sqlmock.NewRows([]string{"participant_id"}).
			AddRow(int64(20)).AddRow(int64(21)))

	ids, err := repo.ParticipantsWithPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int64{20, 21}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
