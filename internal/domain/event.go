package domain

import (
	"database/sql"
	"time"
)

// Dispatch attempt status strings. Anything other than success is the
// normalized failure reason from the push service.
const (
	MessageSendSuccess          = "success"
	MessageUnregistered         = "unregistered"
	MessageQuotaExceeded        = "quota exceeded"
	MessageUnexpectedResponse   = "unexpected service response"
	MessageUnknownRemoteError   = "unknown remote error"
	MessageConnectionFailed     = "failed to establish connection"
	MessageConnectionAborted    = "connection aborted"
	MessageAccountNotFound      = "account not found"
	MessagePushMisconfigured    = "push service not configured"
)

// ScheduledEvent a pending survey notification (scheduled_events
// table). At most one non-deleted event exists per (participant,
// survey, schedule kind, scheduled instant).
type ScheduledEvent struct {
	ID            int64 `db:"id"`
	ParticipantID int64 `db:"participant_id"`
	SurveyID      int64 `db:"survey_id"`

	// exactly one of these is set; it decides the schedule kind
	WeeklyScheduleID   sql.NullInt64 `db:"weekly_schedule_id"`
	AbsoluteScheduleID sql.NullInt64 `db:"absolute_schedule_id"`
	RelativeScheduleID sql.NullInt64 `db:"relative_schedule_id"`

	ScheduledTime time.Time  `db:"scheduled_time"` // stored UTC
	UUID          string     `db:"uuid"`
	Deleted       bool       `db:"deleted"`
	NoResend      bool       `db:"no_resend"`
	CheckinTime   *time.Time `db:"checkin_time"`
}

// ScheduleKind derives the kind from whichever schedule reference is set.
func (e *ScheduledEvent) ScheduleKind() string {
	switch {
	case e.WeeklyScheduleID.Valid:
		return ScheduleKindWeekly
	case e.RelativeScheduleID.Valid:
		return ScheduleKindRelative
	default:
		return ScheduleKindAbsolute
	}
}

// ArchivedEvent record of one dispatch attempt (archived_events
// table). Rows are only ever appended; confirmed_received flips when
// the device reports the notification and last_updated moves when a
// resend is issued.
type ArchivedEvent struct {
	ID              int64          `db:"id"`
	ParticipantID   int64          `db:"participant_id"`
	SurveyArchiveID int64          `db:"survey_archive_id"`
	ScheduleKind    string         `db:"schedule_kind"`
	ScheduledTime   time.Time      `db:"scheduled_time"`
	AttemptedTime   time.Time      `db:"created_on"`
	LastUpdated     time.Time      `db:"last_updated"` // re-arms the resend timer
	Status          string         `db:"status"`
	UUID            sql.NullString `db:"uuid"` // copied from the scheduled event
	ConfirmedReceived bool         `db:"confirmed_received"`
}

// NotificationReport device-originated receipt for a notification uuid
// (notification_reports table).
type NotificationReport struct {
	ID            int64     `db:"id"`
	ParticipantID int64     `db:"participant_id"`
	UUID          string    `db:"notification_uuid"`
	Applied       bool      `db:"applied"`
	Created       time.Time `db:"created_on"`
}
