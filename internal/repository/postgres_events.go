package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"skylark-data/internal/domain"
)

// PostgresEventsRepository scheduled events over postgres.
type PostgresEventsRepository struct {
	db *sql.DB
}

func NewPostgresEventsRepository(db *sql.DB) *PostgresEventsRepository {
	return &PostgresEventsRepository{db: db}
}

var _ EventsRepository = (*PostgresEventsRepository)(nil)

func scheduleKindColumn(kind string) (string, error) {
	switch kind {
	case domain.ScheduleKindWeekly:
		return "weekly_schedule_id", nil
	case domain.ScheduleKindAbsolute:
		return "absolute_schedule_id", nil
	case domain.ScheduleKindRelative:
		return "relative_schedule_id", nil
	}
	return "", fmt.Errorf("unknown schedule kind %q", kind)
}

func (r *PostgresEventsRepository) DeletePendingBySurvey(ctx context.Context, surveyID int64, scheduleKind string) error {
	column, err := scheduleKindColumn(scheduleKind)
	if err != nil {
		return err
	}
	// column comes from the whitelist above
	query := fmt.Sprintf(`
		UPDATE scheduled_events
		SET deleted = TRUE
		WHERE survey_id = $1 AND deleted = FALSE AND %s IS NOT NULL`, column)
	if _, err := r.db.ExecContext(ctx, query, surveyID); err != nil {
		return fmt.Errorf("failed to delete pending events: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) CreateEvents(ctx context.Context, events []*domain.ScheduledEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scheduled_events
			(participant_id, survey_id, weekly_schedule_id, absolute_schedule_id,
			 relative_schedule_id, scheduled_time, uuid, deleted, no_resend)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, FALSE)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ParticipantID, e.SurveyID,
			e.WeeklyScheduleID, e.AbsoluteScheduleID, e.RelativeScheduleID,
			e.ScheduledTime, e.UUID)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) ArchivedInstants(ctx context.Context, surveyID int64) ([]ParticipantInstant, error) {
	query := `
		SELECT ae.participant_id, ae.scheduled_time
		FROM archived_events ae
		JOIN survey_archives sa ON sa.id = ae.survey_archive_id
		WHERE sa.survey_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived instants: %w", err)
	}
	defer rows.Close()

	var instants []ParticipantInstant
	for rows.Next() {
		var pi ParticipantInstant
		if err := rows.Scan(&pi.ParticipantID, &pi.ScheduledTime); err != nil {
			return nil, fmt.Errorf("failed to scan archived instant: %w", err)
		}
		instants = append(instants, pi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived instants: %w", err)
	}
	return instants, nil
}

const eventColumns = `
	se.id,
	se.participant_id,
	se.survey_id,
	se.weekly_schedule_id,
	se.absolute_schedule_id,
	se.relative_schedule_id,
	se.scheduled_time,
	se.uuid,
	se.deleted,
	se.no_resend,
	se.checkin_time
`

func scanEvent(row interface{ Scan(dest ...any) error }) (*domain.ScheduledEvent, error) {
	var e domain.ScheduledEvent
	err := row.Scan(
		&e.ID,
		&e.ParticipantID,
		&e.SurveyID,
		&e.WeeklyScheduleID,
		&e.AbsoluteScheduleID,
		&e.RelativeScheduleID,
		&e.ScheduledTime,
		&e.UUID,
		&e.Deleted,
		&e.NoResend,
		&e.CheckinTime,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresEventsRepository) DueEvents(ctx context.Context, now time.Time) ([]*domain.ScheduledEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM scheduled_events se
		JOIN participants p ON p.id = se.participant_id
		WHERE se.deleted = FALSE
		  AND se.scheduled_time <= $1
		  AND p.deleted = FALSE
		  AND p.permanently_retired = FALSE
		ORDER BY se.participant_id, se.scheduled_time`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}
	defer rows.Close()

	var events []*domain.ScheduledEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func (r *PostgresEventsRepository) MarkEventsDeleted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_events SET deleted = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark events deleted: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) SetNoResend(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_events SET no_resend = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to flag events no-resend: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) InsertArchivedEvent(ctx context.Context, event *domain.ArchivedEvent) error {
	query := `
		INSERT INTO archived_events
			(participant_id, survey_archive_id, schedule_kind, scheduled_time,
			 status, uuid, confirmed_received, created_on, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW(), NOW())
		RETURNING id, created_on
	`
	err := r.db.QueryRowContext(ctx, query,
		event.ParticipantID, event.SurveyArchiveID, event.ScheduleKind,
		event.ScheduledTime, event.Status, event.UUID,
	).Scan(&event.ID, &event.AttemptedTime)
	if err != nil {
		return fmt.Errorf("failed to insert archived event: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) ResendCandidates(ctx context.Context, enabledAfter, staleBefore time.Time) ([]*domain.ArchivedEvent, error) {
	// last_updated moves on every resend, so the same uuid sits out a
	// full resend period between attempts
	query := `
		SELECT ae.id, ae.participant_id, ae.survey_archive_id, ae.schedule_kind,
		       ae.scheduled_time, ae.created_on, ae.last_updated, ae.status, ae.uuid,
		       ae.confirmed_received
		FROM archived_events ae
		JOIN scheduled_events se ON se.uuid = ae.uuid
		WHERE ae.status = $1
		  AND ae.uuid IS NOT NULL
		  AND ae.confirmed_received = FALSE
		  AND ae.created_on > $2
		  AND ae.last_updated < $3
		  AND se.no_resend = FALSE
		ORDER BY ae.created_on
	`
	rows, err := r.db.QueryContext(ctx, query, domain.MessageSendSuccess, enabledAfter, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to query resend candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*domain.ArchivedEvent
	for rows.Next() {
		var ae domain.ArchivedEvent
		err := rows.Scan(&ae.ID, &ae.ParticipantID, &ae.SurveyArchiveID, &ae.ScheduleKind,
			&ae.ScheduledTime, &ae.AttemptedTime, &ae.LastUpdated, &ae.Status, &ae.UUID,
			&ae.ConfirmedReceived)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resend candidate: %w", err)
		}
		candidates = append(candidates, &ae)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resend candidates: %w", err)
	}
	return candidates, nil
}

func (r *PostgresEventsRepository) ResurrectEvent(ctx context.Context, uuid string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_events SET deleted = FALSE WHERE uuid = $1 AND no_resend = FALSE`, uuid)
	if err != nil {
		return fmt.Errorf("failed to resurrect event: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) MarkResent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE archived_events SET last_updated = NOW() WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to stamp resent events: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) InsertReport(ctx context.Context, participantID int64, uuid string) error {
	query := `
		INSERT INTO notification_reports (participant_id, notification_uuid, applied, created_on)
		VALUES ($1, $2, FALSE, NOW())
		ON CONFLICT (participant_id, notification_uuid) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, participantID, uuid); err != nil {
		return fmt.Errorf("failed to insert notification report: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) UnappliedReports(ctx context.Context) ([]*domain.NotificationReport, error) {
	query := `
		SELECT id, participant_id, notification_uuid, applied, created_on
		FROM notification_reports
		WHERE applied = FALSE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.NotificationReport
	for rows.Next() {
		var nr domain.NotificationReport
		if err := rows.Scan(&nr.ID, &nr.ParticipantID, &nr.UUID, &nr.Applied, &nr.Created); err != nil {
			return nil, fmt.Errorf("failed to scan notification report: %w", err)
		}
		reports = append(reports, &nr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification reports: %w", err)
	}
	return reports, nil
}

func (r *PostgresEventsRepository) ApplyReport(ctx context.Context, report *domain.NotificationReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE archived_events SET confirmed_received = TRUE WHERE uuid = $1 AND participant_id = $2`,
		report.UUID, report.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to confirm archived events: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE notification_reports SET applied = TRUE WHERE id = $1`, report.ID)
	if err != nil {
		return fmt.Errorf("failed to mark report applied: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report application: %w", err)
	}
	report.Applied = true
	return nil
}
