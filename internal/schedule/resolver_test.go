package schedule

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/repository"
)

type memSurveys struct {
	surveys       []*domain.Survey
	weekly        []*domain.WeeklySchedule
	absolute      []*domain.AbsoluteSchedule
	relative      []*domain.RelativeSchedule
	dates         map[int64][]*domain.InterventionDate
	appliedWrites []*domain.AbsoluteSchedule
}

func (m *memSurveys) GetSurvey(context.Context, int64) (*domain.Survey, error) {
	return nil, sql.ErrNoRows
}
func (m *memSurveys) GetSurveyByObjectID(context.Context, string) (*domain.Survey, error) {
	return nil, sql.ErrNoRows
}
func (m *memSurveys) ListByStudy(context.Context, int64) ([]*domain.Survey, error) {
	return m.surveys, nil
}
func (m *memSurveys) WeeklySchedules(context.Context, int64) ([]*domain.WeeklySchedule, error) {
	return m.weekly, nil
}
func (m *memSurveys) AbsoluteSchedules(context.Context, int64) ([]*domain.AbsoluteSchedule, error) {
	return m.absolute, nil
}
func (m *memSurveys) RelativeSchedules(context.Context, int64) ([]*domain.RelativeSchedule, error) {
	return m.relative, nil
}
func (m *memSurveys) MarkAbsoluteTimezoneApplied(_ context.Context, sched *domain.AbsoluteSchedule) error {
	m.appliedWrites = append(m.appliedWrites, sched)
	return nil
}
func (m *memSurveys) InterventionDates(_ context.Context, participantID int64) ([]*domain.InterventionDate, error) {
	return m.dates[participantID], nil
}
func (m *memSurveys) LatestArchive(context.Context, int64) (*domain.SurveyArchive, error) {
	return nil, sql.ErrNoRows
}

type memParticipants struct {
	participants []*domain.Participant
}

func (m *memParticipants) GetParticipant(context.Context, int64) (*domain.Participant, error) {
	return nil, sql.ErrNoRows
}
func (m *memParticipants) GetParticipantByPatientID(context.Context, int64, string) (*domain.Participant, error) {
	return nil, sql.ErrNoRows
}
func (m *memParticipants) ListByStudy(context.Context, int64) ([]*domain.Participant, error) {
	return m.participants, nil
}
func (m *memParticipants) StampLiveness(context.Context, int64, string, time.Time) error { return nil }
func (m *memParticipants) ActiveToken(context.Context, int64) (*domain.FCMToken, error) {
	return nil, sql.ErrNoRows
}
func (m *memParticipants) SetToken(context.Context, int64, string, time.Time) error { return nil }
func (m *memParticipants) UnregisterToken(context.Context, string, time.Time) error { return nil }
func (m *memParticipants) IncrementUnreachable(context.Context, int64) (int, error) { return 0, nil }
func (m *memParticipants) ResetUnreachable(context.Context, int64) error            { return nil }

type memEvents struct {
	pending  []*domain.ScheduledEvent
	archived []repository.ParticipantInstant
}

func (m *memEvents) DeletePendingBySurvey(_ context.Context, surveyID int64, kind string) error {
	kept := m.pending[:0]
	for _, e := range m.pending {
		if e.SurveyID == surveyID && e.ScheduleKind() == kind {
			continue
		}
		kept = append(kept, e)
	}
	m.pending = kept
	return nil
}

func (m *memEvents) CreateEvents(_ context.Context, events []*domain.ScheduledEvent) error {
	m.pending = append(m.pending, events...)
	return nil
}

func (m *memEvents) ArchivedInstants(context.Context, int64) ([]repository.ParticipantInstant, error) {
	return m.archived, nil
}

func (m *memEvents) DueEvents(context.Context, time.Time) ([]*domain.ScheduledEvent, error) {
	return nil, nil
}
func (m *memEvents) MarkEventsDeleted(context.Context, []int64) error              { return nil }
func (m *memEvents) SetNoResend(context.Context, []int64) error                    { return nil }
func (m *memEvents) InsertArchivedEvent(context.Context, *domain.ArchivedEvent) error { return nil }
func (m *memEvents) ResendCandidates(context.Context, time.Time, time.Time) ([]*domain.ArchivedEvent, error) {
	return nil, nil
}
func (m *memEvents) ResurrectEvent(context.Context, string) error          { return nil }
func (m *memEvents) MarkResent(context.Context, []int64) error             { return nil }
func (m *memEvents) InsertReport(context.Context, int64, string) error     { return nil }
func (m *memEvents) UnappliedReports(context.Context) ([]*domain.NotificationReport, error) {
	return nil, nil
}
func (m *memEvents) ApplyReport(context.Context, *domain.NotificationReport) error { return nil }

type resolverFixture struct {
	study        *domain.Study
	survey       *domain.Survey
	surveys      *memSurveys
	participants *memParticipants
	events       *memEvents
	resolver     *Resolver
}

func newResolverFixture(tzName string, now time.Time) *resolverFixture {
	f := &resolverFixture{
		study: &domain.Study{
			ID:            1,
			ObjectID:      "5873fe38644ad7557b168e43",
			EncryptionKey: bytes.Repeat([]byte("k"), 32),
			TimezoneName:  tzName,
		},
		survey: &domain.Survey{ID: 3, StudyID: 1, ObjectID: "587442edf7321c14da193487"},
		surveys: &memSurveys{
			dates: map[int64][]*domain.InterventionDate{},
		},
		participants: &memParticipants{participants: []*domain.Participant{
			{ID: 7, StudyID: 1, PatientID: "q41aozrx"},
		}},
		events: &memEvents{},
	}
	f.surveys.surveys = []*domain.Survey{f.survey}
	f.resolver = NewResolver(f.surveys, f.participants, f.events, zap.NewNop())
	f.resolver.now = func() time.Time { return now }
	return f
}

func TestNextWeekly(t *testing.T) {
	utc := time.UTC
	// 2023-11-15 is a wednesday
	sched := &domain.WeeklySchedule{DayOfWeek: 3, Hour: 1, Minute: 0}

	now := time.Date(2023, 11, 15, 0, 30, 0, 0, utc)
	assert.Equal(t, time.Date(2023, 11, 15, 1, 0, 0, 0, utc), NextWeekly(sched, now, utc))

	// after the slot passes, the next fire is a full week out
	now = time.Date(2023, 11, 15, 1, 10, 0, 0, utc)
	assert.Equal(t, time.Date(2023, 11, 22, 1, 0, 0, 0, utc), NextWeekly(sched, now, utc))

	// exactly at the slot is not strictly after it
	now = time.Date(2023, 11, 15, 1, 0, 0, 0, utc)
	assert.Equal(t, time.Date(2023, 11, 22, 1, 0, 0, 0, utc), NextWeekly(sched, now, utc))
}

func TestNextWeeklyRespectsStudyTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	sched := &domain.WeeklySchedule{DayOfWeek: 3, Hour: 9, Minute: 30}

	// 13:30 UTC is 08:30 in new york, so today's 09:30 slot is still ahead
	now := time.Date(2023, 11, 15, 13, 30, 0, 0, time.UTC)
	got := NextWeekly(sched, now, ny)
	assert.Equal(t, time.Date(2023, 11, 15, 9, 30, 0, 0, ny).UTC(), got)
}

func TestRepopulateWeeklyCreatesSingleUpcomingEvent(t *testing.T) {
	now := time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC)
	f := newResolverFixture("UTC", now)
	f.surveys.weekly = []*domain.WeeklySchedule{{ID: 11, SurveyID: 3, DayOfWeek: 3, Hour: 1}}

	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))
	require.Len(t, f.events.pending, 1)

	event := f.events.pending[0]
	assert.Equal(t, int64(7), event.ParticipantID)
	assert.Equal(t, domain.ScheduleKindWeekly, event.ScheduleKind())
	assert.Equal(t, time.Date(2023, 11, 15, 1, 0, 0, 0, time.UTC), event.ScheduledTime)
	assert.NotEmpty(t, event.UUID)

	// repopulating again replaces rather than duplicates
	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))
	require.Len(t, f.events.pending, 1)
	assert.Equal(t, event.ScheduledTime, f.events.pending[0].ScheduledTime)
}

func TestRepopulateWeeklySkipsAlreadyDispatchedInstant(t *testing.T) {
	now := time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC)
	f := newResolverFixture("UTC", now)
	f.surveys.weekly = []*domain.WeeklySchedule{{ID: 11, SurveyID: 3, DayOfWeek: 3, Hour: 1}}
	f.events.archived = []repository.ParticipantInstant{
		{ParticipantID: 7, ScheduledTime: time.Date(2023, 11, 15, 1, 0, 0, 0, time.UTC)},
	}

	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))
	assert.Empty(t, f.events.pending)
}

func TestRepopulateAbsoluteForceLocalizesNaiveDates(t *testing.T) {
	now := time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC)
	f := newResolverFixture("America/New_York", now)
	ny, _ := time.LoadLocation("America/New_York")

	f.surveys.absolute = []*domain.AbsoluteSchedule{{
		ID:       21,
		SurveyID: 3,
		// stored naive: the wall clock fields are meaningful, the zone
		// is not
		ScheduledDate:   time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC),
		TimezoneApplied: false,
	}}

	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))

	require.Len(t, f.surveys.appliedWrites, 1)
	applied := f.surveys.appliedWrites[0]
	assert.True(t, applied.TimezoneApplied)
	assert.Equal(t, time.Date(2023, 12, 1, 9, 0, 0, 0, ny), applied.ScheduledDate)

	require.Len(t, f.events.pending, 1)
	event := f.events.pending[0]
	assert.Equal(t, domain.ScheduleKindAbsolute, event.ScheduleKind())
	assert.Equal(t, time.Date(2023, 12, 1, 9, 0, 0, 0, ny).UTC(), event.ScheduledTime)
}

func TestRepopulateRelativeSkipsUnsetInterventionDates(t *testing.T) {
	now := time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC)
	f := newResolverFixture("UTC", now)
	f.participants.participants = append(f.participants.participants,
		&domain.Participant{ID: 8, StudyID: 1, PatientID: "z99zzzzz"})

	f.surveys.relative = []*domain.RelativeSchedule{{
		ID: 31, SurveyID: 3, InterventionID: 5, DaysAfter: 2, Hour: 10, Minute: 15,
	}}
	surgery := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	f.surveys.dates[7] = []*domain.InterventionDate{
		{ParticipantID: 7, InterventionID: 5, Date: &surgery},
	}
	f.surveys.dates[8] = []*domain.InterventionDate{
		{ParticipantID: 8, InterventionID: 5, Date: nil}, // not set yet
	}

	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))

	require.Len(t, f.events.pending, 1)
	event := f.events.pending[0]
	assert.Equal(t, int64(7), event.ParticipantID)
	assert.Equal(t, domain.ScheduleKindRelative, event.ScheduleKind())
	assert.Equal(t, time.Date(2023, 11, 22, 10, 15, 0, 0, time.UTC), event.ScheduledTime)
}

func TestRepopulateSkipsDeletedParticipants(t *testing.T) {
	now := time.Date(2023, 11, 15, 0, 30, 0, 0, time.UTC)
	f := newResolverFixture("UTC", now)
	f.participants.participants = []*domain.Participant{
		{ID: 7, StudyID: 1, PatientID: "q41aozrx", Deleted: true},
	}
	f.surveys.weekly = []*domain.WeeklySchedule{{ID: 11, SurveyID: 3, DayOfWeek: 3, Hour: 1}}

	require.NoError(t, f.resolver.RefreshStudy(context.Background(), f.study))
	assert.Empty(t, f.events.pending)
}
