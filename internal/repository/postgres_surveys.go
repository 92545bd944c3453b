package repository

import (
	"context"
	"database/sql"
	"fmt"

	"skylark-data/internal/domain"
)

// PostgresSurveysRepository surveys over postgres.
type PostgresSurveysRepository struct {
	db *sql.DB
}

func NewPostgresSurveysRepository(db *sql.DB) *PostgresSurveysRepository {
	return &PostgresSurveysRepository{db: db}
}

var _ SurveysRepository = (*PostgresSurveysRepository)(nil)

func scanSurvey(row interface{ Scan(dest ...any) error }) (*domain.Survey, error) {
	var s domain.Survey
	if err := row.Scan(&s.ID, &s.StudyID, &s.ObjectID, &s.Type, &s.Deleted); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresSurveysRepository) GetSurvey(ctx context.Context, id int64) (*domain.Survey, error) {
	query := `SELECT id, study_id, object_id, survey_type, deleted FROM surveys WHERE id = $1`
	s, err := scanSurvey(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("survey not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get survey: %w", err)
	}
	return s, nil
}

func (r *PostgresSurveysRepository) GetSurveyByObjectID(ctx context.Context, objectID string) (*domain.Survey, error) {
	query := `SELECT id, study_id, object_id, survey_type, deleted FROM surveys WHERE object_id = $1`
	s, err := scanSurvey(r.db.QueryRowContext(ctx, query, objectID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("survey not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get survey: %w", err)
	}
	return s, nil
}

func (r *PostgresSurveysRepository) ListByStudy(ctx context.Context, studyID int64) ([]*domain.Survey, error) {
	query := `SELECT id, study_id, object_id, survey_type, deleted FROM surveys WHERE study_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list surveys: %w", err)
	}
	defer rows.Close()

	var surveys []*domain.Survey
	for rows.Next() {
		s, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan survey: %w", err)
		}
		surveys = append(surveys, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate surveys: %w", err)
	}
	return surveys, nil
}

func (r *PostgresSurveysRepository) WeeklySchedules(ctx context.Context, surveyID int64) ([]*domain.WeeklySchedule, error) {
	query := `SELECT id, survey_id, day_of_week, hour, minute FROM weekly_schedules WHERE survey_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.WeeklySchedule
	for rows.Next() {
		var s domain.WeeklySchedule
		if err := rows.Scan(&s.ID, &s.SurveyID, &s.DayOfWeek, &s.Hour, &s.Minute); err != nil {
			return nil, fmt.Errorf("failed to scan weekly schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate weekly schedules: %w", err)
	}
	return schedules, nil
}

func (r *PostgresSurveysRepository) AbsoluteSchedules(ctx context.Context, surveyID int64) ([]*domain.AbsoluteSchedule, error) {
	query := `SELECT id, survey_id, scheduled_date, timezone_applied FROM absolute_schedules WHERE survey_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list absolute schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.AbsoluteSchedule
	for rows.Next() {
		var s domain.AbsoluteSchedule
		if err := rows.Scan(&s.ID, &s.SurveyID, &s.ScheduledDate, &s.TimezoneApplied); err != nil {
			return nil, fmt.Errorf("failed to scan absolute schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate absolute schedules: %w", err)
	}
	return schedules, nil
}

func (r *PostgresSurveysRepository) RelativeSchedules(ctx context.Context, surveyID int64) ([]*domain.RelativeSchedule, error) {
	query := `SELECT id, survey_id, intervention_id, days_after, hour, minute FROM relative_schedules WHERE survey_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relative schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.RelativeSchedule
	for rows.Next() {
		var s domain.RelativeSchedule
		if err := rows.Scan(&s.ID, &s.SurveyID, &s.InterventionID, &s.DaysAfter, &s.Hour, &s.Minute); err != nil {
			return nil, fmt.Errorf("failed to scan relative schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relative schedules: %w", err)
	}
	return schedules, nil
}

func (r *PostgresSurveysRepository) MarkAbsoluteTimezoneApplied(ctx context.Context, schedule *domain.AbsoluteSchedule) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE absolute_schedules SET scheduled_date = $1, timezone_applied = TRUE WHERE id = $2`,
		schedule.ScheduledDate, schedule.ID)
	if err != nil {
		return fmt.Errorf("failed to mark absolute schedule localized: %w", err)
	}
	schedule.TimezoneApplied = true
	return nil
}

func (r *PostgresSurveysRepository) InterventionDates(ctx context.Context, participantID int64) ([]*domain.InterventionDate, error) {
	query := `SELECT id, participant_id, intervention_id, date FROM intervention_dates WHERE participant_id = $1`
	rows, err := r.db.QueryContext(ctx, query, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intervention dates: %w", err)
	}
	defer rows.Close()

	var dates []*domain.InterventionDate
	for rows.Next() {
		var d domain.InterventionDate
		if err := rows.Scan(&d.ID, &d.ParticipantID, &d.InterventionID, &d.Date); err != nil {
			return nil, fmt.Errorf("failed to scan intervention date: %w", err)
		}
		dates = append(dates, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intervention dates: %w", err)
	}
	return dates, nil
}

func (r *PostgresSurveysRepository) LatestArchive(ctx context.Context, surveyID int64) (*domain.SurveyArchive, error) {
	var a domain.SurveyArchive
	err := r.db.QueryRowContext(ctx,
		`SELECT id, survey_id, archive_start FROM survey_archives WHERE survey_id = $1 ORDER BY archive_start DESC LIMIT 1`,
		surveyID,
	).Scan(&a.ID, &a.SurveyID, &a.ArchiveStart)
	if err == nil {
		return &a, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get survey archive: %w", err)
	}

	// first dispatch of a never-archived survey snapshots it now
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO survey_archives (survey_id, archive_start) VALUES ($1, NOW()) RETURNING id, survey_id, archive_start`,
		surveyID,
	).Scan(&a.ID, &a.SurveyID, &a.ArchiveStart)
	if err != nil {
		return nil, fmt.Errorf("failed to create survey archive: %w", err)
	}
	return &a, nil
}
