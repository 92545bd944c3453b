package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"skylark-data/internal/domain"
)

// PostgresParticipantsRepository participants over postgres.
type PostgresParticipantsRepository struct {
	db *sql.DB
}

func NewPostgresParticipantsRepository(db *sql.DB) *PostgresParticipantsRepository {
	return &PostgresParticipantsRepository{db: db}
}

var _ ParticipantsRepository = (*PostgresParticipantsRepository)(nil)

const participantColumns = `
	id,
	study_id,
	patient_id,
	os_type,
	timezone_name,
	unknown_timezone,
	deleted,
	permanently_retired,
	push_notification_unreachable_count,
	last_upload,
	last_get_latest_surveys,
	last_set_password,
	last_set_fcm_token,
	last_get_latest_device_settings,
	last_register_user,
	last_heartbeat_checkin,
	last_heartbeat_notification
`

func scanParticipant(row interface{ Scan(dest ...any) error }) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.ID,
		&p.StudyID,
		&p.PatientID,
		&p.OSType,
		&p.TimezoneName,
		&p.UnknownTimezone,
		&p.Deleted,
		&p.PermanentlyRetired,
		&p.PushUnreachableCount,
		&p.LastUpload,
		&p.LastGetLatestSurveys,
		&p.LastSetPassword,
		&p.LastSetFCMToken,
		&p.LastGetLatestDeviceSettings,
		&p.LastRegisterUser,
		&p.LastHeartbeatCheckin,
		&p.LastHeartbeatNotification,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresParticipantsRepository) GetParticipant(ctx context.Context, id int64) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("participant not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *PostgresParticipantsRepository) GetParticipantByPatientID(ctx context.Context, studyID int64, patientID string) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE study_id = $1 AND patient_id = $2`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, studyID, patientID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("participant not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *PostgresParticipantsRepository) ListByStudy(ctx context.Context, studyID int64) ([]*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE study_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

func (r *PostgresParticipantsRepository) StampLiveness(ctx context.Context, participantID int64, column string, now time.Time) error {
	switch column {
	case LivenessUpload, LivenessGetLatestSurveys, LivenessSetPassword,
		LivenessSetFCMToken, LivenessGetLatestDeviceSettings,
		LivenessRegisterUser, LivenessHeartbeatCheckin,
		LivenessHeartbeatNotification:
	default:
		return fmt.Errorf("unknown liveness column %q", column)
	}
	// column is validated above, so building the statement is safe
	query := fmt.Sprintf(`UPDATE participants SET %s = $1 WHERE id = $2`, column)
	_, err := r.db.ExecContext(ctx, query, now, participantID)
	if err != nil {
		return fmt.Errorf("failed to stamp %s: %w", column, err)
	}
	return nil
}

func (r *PostgresParticipantsRepository) ActiveToken(ctx context.Context, participantID int64) (*domain.FCMToken, error) {
	query := `
		SELECT id, participant_id, token, unregistered
		FROM fcm_tokens
		WHERE participant_id = $1 AND unregistered IS NULL
		ORDER BY id DESC
		LIMIT 1
	`
	var t domain.FCMToken
	err := r.db.QueryRowContext(ctx, query, participantID).Scan(
		&t.ID, &t.ParticipantID, &t.Token, &t.Unregistered,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active token: %w", err)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

func (r *PostgresParticipantsRepository) SetToken(ctx context.Context, participantID int64, token string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE fcm_tokens SET unregistered = $1 WHERE participant_id = $2 AND unregistered IS NULL AND token <> $3`,
		now, participantID, token)
	if err != nil {
		return fmt.Errorf("failed to unregister old tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fcm_tokens (participant_id, token)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM fcm_tokens
			WHERE participant_id = $1 AND token = $2 AND unregistered IS NULL
		)`,
		participantID, token)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token update: %w", err)
	}
	return nil
}

func (r *PostgresParticipantsRepository) UnregisterToken(ctx context.Context, token string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fcm_tokens SET unregistered = $1 WHERE token = $2 AND unregistered IS NULL`,
		now, token)
	if err != nil {
		return fmt.Errorf("failed to unregister token: %w", err)
	}
	return nil
}

func (r *PostgresParticipantsRepository) IncrementUnreachable(ctx context.Context, participantID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE participants
		SET push_notification_unreachable_count = push_notification_unreachable_count + 1
		WHERE id = $1
		RETURNING push_notification_unreachable_count`,
		participantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment unreachable count: %w", err)
	}
	return count, nil
}

func (r *PostgresParticipantsRepository) ResetUnreachable(ctx context.Context, participantID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE participants SET push_notification_unreachable_count = 0 WHERE id = $1`,
		participantID)
	if err != nil {
		return fmt.Errorf("failed to reset unreachable count: %w", err)
	}
	return nil
}
