package repository

import (
	"context"
	"time"

	"skylark-data/internal/domain"
)

// ParticipantInstant identifies one (participant, scheduled instant)
// pair; used to skip recreating events a participant already received.
type ParticipantInstant struct {
	ParticipantID int64
	ScheduledTime time.Time
}

// EventsRepository scheduled events, dispatch history and device
// receipts.
type EventsRepository interface {
	// DeletePendingBySurvey soft-deletes every undispatched event the
	// given schedule kind produced for the survey, ahead of a
	// repopulation pass.
	DeletePendingBySurvey(ctx context.Context, surveyID int64, scheduleKind string) error

	// CreateEvents batch-inserts fresh events.
	CreateEvents(ctx context.Context, events []*domain.ScheduledEvent) error

	// ArchivedInstants returns the (participant, scheduled time) pairs
	// that already have a dispatch attempt on file for the survey.
	ArchivedInstants(ctx context.Context, surveyID int64) ([]ParticipantInstant, error)

	// DueEvents returns non-deleted events scheduled at or before now
	// whose participant can still receive pushes.
	DueEvents(ctx context.Context, now time.Time) ([]*domain.ScheduledEvent, error)

	// MarkEventsDeleted retires dispatched or obsolete events by id.
	MarkEventsDeleted(ctx context.Context, ids []int64) error

	// SetNoResend flags events that must not be resurrected by the
	// resend pass.
	SetNoResend(ctx context.Context, ids []int64) error

	// InsertArchivedEvent appends one dispatch attempt record.
	InsertArchivedEvent(ctx context.Context, event *domain.ArchivedEvent) error

	// ResendCandidates returns unconfirmed successful sends whose uuid
	// is still eligible for another attempt: sent after enabledAfter,
	// last attempted before staleBefore, and not flagged no-resend.
	ResendCandidates(ctx context.Context, enabledAfter, staleBefore time.Time) ([]*domain.ArchivedEvent, error)

	// ResurrectEvent un-deletes the scheduled event carrying the uuid
	// so the next dispatch pass picks it up again.
	ResurrectEvent(ctx context.Context, uuid string) error

	// MarkResent stamps last_updated on the archived rows so a
	// resurrected uuid waits out another resend period before it
	// qualifies again.
	MarkResent(ctx context.Context, ids []int64) error

	// InsertReport records a device receipt; duplicate uuids for the
	// same participant collapse into the first row.
	InsertReport(ctx context.Context, participantID int64, uuid string) error

	// UnappliedReports returns receipts not yet folded into dispatch
	// history, oldest first.
	UnappliedReports(ctx context.Context) ([]*domain.NotificationReport, error)

	// ApplyReport marks dispatch history confirmed for the uuid and the
	// report row applied, atomically.
	ApplyReport(ctx context.Context, report *domain.NotificationReport) error
}
