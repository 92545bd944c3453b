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

func setupMockParticipantsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresParticipantsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresParticipantsRepository(db)
}

func participantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "study_id", "patient_id", "os_type", "timezone_name",
		"unknown_timezone", "deleted", "permanently_retired",
		"push_notification_unreachable_count",
		"last_upload", "last_get_latest_surveys", "last_set_password",
		"last_set_fcm_token", "last_get_latest_device_settings",
		"last_register_user", "last_heartbeat_checkin", "last_heartbeat_notification",
	})
}

func TestGetParticipant(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	upload := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(int64(20)).
		WillReturnRows(participantRows().AddRow(
			int64(20), int64(10), "q41aozrx", domain.AndroidAPI, "America/New_York",
			false, false, false, 0,
			upload, nil, nil, nil, nil, nil, nil, nil,
		))

	p, err := repo.GetParticipant(context.Background(), 20)

	require.NoError(t, err)
	assert.Equal(t, "q41aozrx", p.PatientID)
	assert.True(t, p.Pushable())
	assert.WithinDuration(t, upload, p.LastActive(), time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampLiveness_RejectsUnknownColumn(t *testing.T) {
	db, _, repo := setupMockParticipantsDB(t)
	defer db.Close()

	err := repo.StampLiveness(context.Background(), 20, "deleted", time.Now())
	assert.Error(t, err)
}

func TestStampLiveness(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`UPDATE participants SET last_heartbeat_notification`).
		WithArgs(now, int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.StampLiveness(context.Background(), 20, LivenessHeartbeatNotification, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveToken(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "participant_id", "token", "unregistered"}).
			AddRow(int64(3), int64(20), "fcm-token-abc", nil))

	token, err := repo.ActiveToken(context.Background(), 20)

	require.NoError(t, err)
	assert.Equal(t, "fcm-token-abc", token.Token)
	assert.Nil(t, token.Unregistered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveToken_None(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs(int64(20)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ActiveToken(context.Background(), 20)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestIncrementUnreachable(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE participants`).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"push_notification_unreachable_count"}).AddRow(5))

	count, err := repo.IncrementUnreachable(context.Background(), 20)

	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetToken(t *testing.T) {
	db, mock, repo := setupMockParticipantsDB(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE fcm_tokens SET unregistered`).
		WithArgs(now, int64(20), "new-token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO fcm_tokens`).
		WithArgs(int64(20), "new-token").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetToken(context.Background(), 20, "new-token", now))
	require.NoError(t, mock.ExpectationsWereMet())
}
