package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"skylark-data/internal/domain"
)

func TestRecordBlob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresBlobsRepository(db)

	meta := domain.BlobMetadata{
		Path:             "CHUNKED_DATA/s/p/gps/x.csv.zst",
		LastUpdated:      time.Now().UTC(),
		SizeUncompressed: 100,
		SizeCompressed:   40,
		SHA1:             "abc",
		StudyID:          1,
		ParticipantID:    7,
	}

	mock.ExpectExec(`INSERT INTO blob_metadata`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordBlob(context.Background(), meta))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresBlobsRepository(db)

	mock.ExpectExec(`UPDATE blob_metadata`).
		WithArgs("CHUNKED_DATA/s/p/gps/x.csv.zst", int64(300), int64(20), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordRead(context.Background(), "CHUNKED_DATA/s/p/gps/x.csv.zst", 300, 20, 10))
	require.NoError(t, mock.ExpectationsWereMet())
}
