package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/repository"
)

// Resolver materializes pending notification events from survey
// schedules. Repopulation is idempotent: it replaces the undispatched
// events of a schedule kind with a freshly computed set, never touching
// dispatch history.
type Resolver struct {
	surveys      repository.SurveysRepository
	participants repository.ParticipantsRepository
	events       repository.EventsRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewResolver(
	surveys repository.SurveysRepository,
	participants repository.ParticipantsRepository,
	events repository.EventsRepository,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		surveys:      surveys,
		participants: participants,
		events:       events,
		logger:       logger,
		now:          time.Now,
	}
}

// RefreshStudy recomputes pending events for every live survey of the
// study. A survey failure is logged and does not block the others.
func (r *Resolver) RefreshStudy(ctx context.Context, study *domain.Study) error {
	surveys, err := r.surveys.ListByStudy(ctx, study.ID)
	if err != nil {
		return err
	}
	participants, err := r.participants.ListByStudy(ctx, study.ID)
	if err != nil {
		return err
	}
	live := participants[:0]
	for _, p := range participants {
		if !p.Deleted {
			live = append(live, p)
		}
	}

	for _, survey := range surveys {
		if survey.Deleted {
			continue
		}
		if err := r.RepopulateSurvey(ctx, study, survey, live); err != nil {
			r.logger.Error("failed to repopulate survey schedules",
				zap.String("survey", survey.ObjectID), zap.Error(err))
		}
	}
	return nil
}

// RepopulateSurvey rebuilds the pending events of all three schedule
// kinds for one survey.
func (r *Resolver) RepopulateSurvey(ctx context.Context, study *domain.Study, survey *domain.Survey, participants []*domain.Participant) error {
	archived, err := r.archivedSet(ctx, survey.ID)
	if err != nil {
		return err
	}
	if err := r.repopulateWeekly(ctx, study, survey, participants, archived); err != nil {
		return err
	}
	if err := r.repopulateAbsolute(ctx, study, survey, participants, archived); err != nil {
		return err
	}
	return r.repopulateRelative(ctx, study, survey, participants, archived)
}

// instantKey identifies a (participant, instant) pair independent of
// time.Time internals.
type instantKey struct {
	participantID int64
	unixSeconds   int64
}

func (r *Resolver) archivedSet(ctx context.Context, surveyID int64) (map[instantKey]struct{}, error) {
	pairs, err := r.events.ArchivedInstants(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	set := make(map[instantKey]struct{}, len(pairs))
	for _, pair := range pairs {
		set[instantKey{pair.ParticipantID, pair.ScheduledTime.Unix()}] = struct{}{}
	}
	return set, nil
}

func (r *Resolver) repopulateWeekly(ctx context.Context, study *domain.Study, survey *domain.Survey, participants []*domain.Participant, archived map[instantKey]struct{}) error {
	schedules, err := r.surveys.WeeklySchedules(ctx, survey.ID)
	if err != nil {
		return err
	}
	if err := r.events.DeletePendingBySurvey(ctx, survey.ID, domain.ScheduleKindWeekly); err != nil {
		return err
	}

	now := r.now()
	tz := study.Timezone()
	var fresh []*domain.ScheduledEvent
	for _, sched := range schedules {
		// exactly one upcoming event per (participant, schedule)
		fireAt := NextWeekly(sched, now, tz)
		for _, p := range participants {
			if _, sent := archived[instantKey{p.ID, fireAt.Unix()}]; sent {
				continue
			}
			fresh = append(fresh, &domain.ScheduledEvent{
				ParticipantID:    p.ID,
				SurveyID:         survey.ID,
				WeeklyScheduleID: sql.NullInt64{Int64: sched.ID, Valid: true},
				ScheduledTime:    fireAt,
				UUID:             uuid.NewString(),
			})
		}
	}
	return r.events.CreateEvents(ctx, fresh)
}

func (r *Resolver) repopulateAbsolute(ctx context.Context, study *domain.Study, survey *domain.Survey, participants []*domain.Participant, archived map[instantKey]struct{}) error {
	schedules, err := r.surveys.AbsoluteSchedules(ctx, survey.ID)
	if err != nil {
		return err
	}
	if err := r.events.DeletePendingBySurvey(ctx, survey.ID, domain.ScheduleKindAbsolute); err != nil {
		return err
	}

	tz := study.Timezone()
	var fresh []*domain.ScheduledEvent
	for _, sched := range schedules {
		if !sched.TimezoneApplied {
			// legacy naive dates are pinned to the study timezone once
			// and the source record rewritten
			sched.ScheduledDate = sched.EventTime(tz)
			sched.TimezoneApplied = true
			if err := r.surveys.MarkAbsoluteTimezoneApplied(ctx, sched); err != nil {
				return err
			}
		}
		fireAt := sched.EventTime(tz).UTC()
		for _, p := range participants {
			if _, sent := archived[instantKey{p.ID, fireAt.Unix()}]; sent {
				continue
			}
			fresh = append(fresh, &domain.ScheduledEvent{
				ParticipantID:      p.ID,
				SurveyID:           survey.ID,
				AbsoluteScheduleID: sql.NullInt64{Int64: sched.ID, Valid: true},
				ScheduledTime:      fireAt,
				UUID:               uuid.NewString(),
			})
		}
	}
	return r.events.CreateEvents(ctx, fresh)
}

func (r *Resolver) repopulateRelative(ctx context.Context, study *domain.Study, survey *domain.Survey, participants []*domain.Participant, archived map[instantKey]struct{}) error {
	schedules, err := r.surveys.RelativeSchedules(ctx, survey.ID)
	if err != nil {
		return err
	}
	if err := r.events.DeletePendingBySurvey(ctx, survey.ID, domain.ScheduleKindRelative); err != nil {
		return err
	}

	tz := study.Timezone()
	var fresh []*domain.ScheduledEvent
	for _, p := range participants {
		dates, err := r.surveys.InterventionDates(ctx, p.ID)
		if err != nil {
			return err
		}
		byIntervention := make(map[int64]*domain.InterventionDate, len(dates))
		for _, d := range dates {
			byIntervention[d.InterventionID] = d
		}
		for _, sched := range schedules {
			date := byIntervention[sched.InterventionID]
			if date == nil || date.Date == nil {
				// the researcher has not set this milestone yet
				continue
			}
			fireAt := sched.ScheduledTime(*date.Date, tz).UTC()
			if _, sent := archived[instantKey{p.ID, fireAt.Unix()}]; sent {
				continue
			}
			fresh = append(fresh, &domain.ScheduledEvent{
				ParticipantID:      p.ID,
				SurveyID:           survey.ID,
				RelativeScheduleID: sql.NullInt64{Int64: sched.ID, Valid: true},
				ScheduledTime:      fireAt,
				UUID:               uuid.NewString(),
			})
		}
	}
	return r.events.CreateEvents(ctx, fresh)
}

// NextWeekly returns the next instant matching the schedule's day of
// week and time of day in tz, strictly after now, as UTC.
func NextWeekly(sched *domain.WeeklySchedule, now time.Time, tz *time.Location) time.Time {
	local := now.In(tz)
	for offset := 0; ; offset++ {
		day := local.AddDate(0, 0, offset)
		if int(day.Weekday()) != sched.DayOfWeek {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), sched.Hour, sched.Minute, 0, 0, tz)
		// today's slot may already have passed; the loop rolls to the
		// same weekday next week
		if candidate.After(now) {
			return candidate.UTC()
		}
	}
}
