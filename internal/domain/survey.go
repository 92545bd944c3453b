package domain

import "time"

// Survey type tags.
const (
	TrackingSurvey = "tracking_survey"
	AudioSurvey    = "audio_survey"
)

// Schedule kinds; each scheduled event is produced by exactly one.
const (
	ScheduleKindWeekly   = "weekly"
	ScheduleKindAbsolute = "absolute"
	ScheduleKindRelative = "relative"
)

// Survey domain model (surveys table).
type Survey struct {
	ID       int64  `db:"id"`
	StudyID  int64  `db:"study_id"`
	ObjectID string `db:"object_id"` // 24 char ascii
	Type     string `db:"survey_type"`
	Deleted  bool   `db:"deleted"`
}

// SurveyArchive immutable snapshot of a survey version (survey_archives
// table). Dispatch history references archives, never live surveys.
type SurveyArchive struct {
	ID           int64     `db:"id"`
	SurveyID     int64     `db:"survey_id"`
	ArchiveStart time.Time `db:"archive_start"`
}

// WeeklySchedule fires on a day of week at a time of day, every week,
// in the study timezone. Day 0 is Sunday (device timings schema).
type WeeklySchedule struct {
	ID        int64 `db:"id"`
	SurveyID  int64 `db:"survey_id"`
	DayOfWeek int   `db:"day_of_week"` // 0-6, 0 = Sunday
	Hour      int   `db:"hour"`
	Minute    int   `db:"minute"`
}

// AbsoluteSchedule fires at one specific wall-clock instant in the
// study timezone.
type AbsoluteSchedule struct {
	ID            int64     `db:"id"`
	SurveyID      int64     `db:"survey_id"`
	ScheduledDate time.Time `db:"scheduled_date"`
	// naive source records are rewritten once force-localized
	TimezoneApplied bool `db:"timezone_applied"`
}

// EventTime localizes the configured wall-clock instant.
func (a *AbsoluteSchedule) EventTime(tz *time.Location) time.Time {
	t := a.ScheduledDate
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, tz)
}

// Intervention a named per-study milestone (interventions table).
type Intervention struct {
	ID      int64  `db:"id"`
	StudyID int64  `db:"study_id"`
	Name    string `db:"name"`
}

// InterventionDate the per-participant date of an intervention; nil
// until a researcher sets it.
type InterventionDate struct {
	ID             int64      `db:"id"`
	ParticipantID  int64      `db:"participant_id"`
	InterventionID int64      `db:"intervention_id"`
	Date           *time.Time `db:"date"`
}

// RelativeSchedule fires days_after days from a participant's
// intervention date, at a time of day in the study timezone.
// days_after is zero or negative for day-of and days-before.
type RelativeSchedule struct {
	ID             int64 `db:"id"`
	SurveyID       int64 `db:"survey_id"`
	InterventionID int64 `db:"intervention_id"`
	DaysAfter      int   `db:"days_after"`
	Hour           int   `db:"hour"`
	Minute         int   `db:"minute"`
}

// ScheduledTime combines an intervention date with the schedule's
// time-of-day in the given timezone.
func (r *RelativeSchedule) ScheduledTime(interventionDate time.Time, tz *time.Location) time.Time {
	d := interventionDate.AddDate(0, 0, r.DaysAfter)
	return time.Date(d.Year(), d.Month(), d.Day(), r.Hour, r.Minute, 0, 0, tz)
}
