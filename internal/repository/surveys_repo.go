package repository

import (
	"context"

	"skylark-data/internal/domain"
)

// SurveysRepository surveys, their schedules and version archives.
type SurveysRepository interface {
	GetSurvey(ctx context.Context, id int64) (*domain.Survey, error)
	GetSurveyByObjectID(ctx context.Context, objectID string) (*domain.Survey, error)
	ListByStudy(ctx context.Context, studyID int64) ([]*domain.Survey, error)

	WeeklySchedules(ctx context.Context, surveyID int64) ([]*domain.WeeklySchedule, error)
	AbsoluteSchedules(ctx context.Context, surveyID int64) ([]*domain.AbsoluteSchedule, error)
	RelativeSchedules(ctx context.Context, surveyID int64) ([]*domain.RelativeSchedule, error)

	// MarkAbsoluteTimezoneApplied rewrites a naive absolute schedule's
	// date after force-localization so it is only localized once.
	MarkAbsoluteTimezoneApplied(ctx context.Context, schedule *domain.AbsoluteSchedule) error

	// InterventionDates returns every intervention date row for the
	// participant, including rows whose date is still unset.
	InterventionDates(ctx context.Context, participantID int64) ([]*domain.InterventionDate, error)

	// LatestArchive returns the newest archive snapshot of the survey,
	// creating one if the survey has never been archived.
	LatestArchive(ctx context.Context, surveyID int64) (*domain.SurveyArchive, error)
}
