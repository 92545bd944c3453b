package notify

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skylark-data/internal/config"
	"skylark-data/internal/domain"
	"skylark-data/internal/repository"
)

const apiTimeLayout = "2006-01-02T15:04:05"

const (
	surveyTitle      = "Skylark"
	surveyBodyOne    = "You have a survey to take."
	surveyBodyMany   = "You have surveys to take."
	defaultHeartbeat = "Please open the app to continue contributing data."
)

// Dispatcher sends due survey notifications, folds device receipts into
// dispatch history and resurrects stale unconfirmed sends.
type Dispatcher struct {
	events       repository.EventsRepository
	participants repository.ParticipantsRepository
	surveys      repository.SurveysRepository
	pusher       Pusher
	cfg          *config.PushConfig
	workers      int
	logger       *zap.Logger

	// resend only considers sends after this instant, so enabling the
	// feature does not resurrect months of history
	resendEnabledAfter time.Time

	now func() time.Time
}

func NewDispatcher(
	events repository.EventsRepository,
	participants repository.ParticipantsRepository,
	surveys repository.SurveysRepository,
	pusher Pusher,
	cfg *config.PushConfig,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		events:       events,
		participants: participants,
		surveys:      surveys,
		pusher:       pusher,
		cfg:          cfg,
		workers:      cfg.Workers,
		logger:       logger,
		now:          time.Now,
	}
	if d.workers <= 0 {
		d.workers = 4
	}
	if cfg.ResendEnabled {
		d.resendEnabledAfter = d.now()
	}
	return d
}

// DispatchDue sends one push per participant covering all of that
// participant's due events, fanning participants out across the push
// worker pool. Failed events stay pending and are retried on the next
// pass.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	if !d.pusher.Ready() {
		d.logger.Info("push service not configured, skipping dispatch pass")
		return nil
	}

	now := d.now()
	due, err := d.events.DueEvents(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to query due events: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	byParticipant := make(map[int64][]*domain.ScheduledEvent)
	for _, event := range due {
		byParticipant[event.ParticipantID] = append(byParticipant[event.ParticipantID], event)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for participantID, events := range byParticipant {
		participantID, events := participantID, events
		g.Go(func() error {
			if err := d.dispatchParticipant(gctx, participantID, events, now); err != nil {
				d.logger.Error("dispatch failed for participant",
					zap.Int64("participant_id", participantID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) dispatchParticipant(ctx context.Context, participantID int64, events []*domain.ScheduledEvent, now time.Time) error {
	participant, err := d.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}
	if !participant.Pushable() {
		return nil
	}

	token, err := d.participants.ActiveToken(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load fcm token: %w", err)
	}

	msg, err := d.buildMessage(ctx, participant, events, now)
	if err != nil {
		return err
	}

	sendErr := d.pusher.Send(ctx, token.Token, msg)
	if sendErr == nil {
		return d.handleSuccess(ctx, participant, events, now)
	}
	return d.handleFailure(ctx, participant, token, events, now, sendErr)
}

// buildMessage assembles one payload covering every due event. The app
// matches notifications to surveys by object id and confirms receipt by
// event uuid.
func (d *Dispatcher) buildMessage(ctx context.Context, participant *domain.Participant, events []*domain.ScheduledEvent, now time.Time) (Message, error) {
	surveyIDs := make([]string, 0, len(events))
	uuids := make(map[string]string, len(events))
	seen := make(map[int64]bool, len(events))
	for _, event := range events {
		survey, err := d.surveys.GetSurvey(ctx, event.SurveyID)
		if err != nil {
			return Message{}, fmt.Errorf("failed to load survey: %w", err)
		}
		if !seen[survey.ID] {
			seen[survey.ID] = true
			surveyIDs = append(surveyIDs, survey.ObjectID)
		}
		uuids[survey.ObjectID] = event.UUID
	}

	idsJSON, err := json.Marshal(surveyIDs)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode survey ids: %w", err)
	}
	uuidsJSON, err := json.Marshal(uuids)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode survey uuids: %w", err)
	}

	body := surveyBodyOne
	if len(surveyIDs) > 1 {
		body = surveyBodyMany
	}
	return Message{
		Title: surveyTitle,
		Body:  body,
		Data: map[string]string{
			"nonce":             newNonce(),
			"sent_time":         now.UTC().Format(apiTimeLayout),
			"type":              "survey",
			"survey_ids":        string(idsJSON),
			"survey_uuids_dict": string(uuidsJSON),
		},
		OSType:    participant.OSType,
		ShowAlert: true,
	}, nil
}

func (d *Dispatcher) handleSuccess(ctx context.Context, participant *domain.Participant, events []*domain.ScheduledEvent, now time.Time) error {
	if err := d.participants.ResetUnreachable(ctx, participant.ID); err != nil {
		return fmt.Errorf("failed to reset unreachable count: %w", err)
	}

	var retired, noResend []int64
	for _, event := range events {
		if err := d.archive(ctx, event, now, domain.MessageSendSuccess); err != nil {
			return err
		}
		retired = append(retired, event.ID)
		// one-shot schedules must not re-fire when resend is off; the
		// resend pass is what un-deletes them if the device never
		// confirms
		if event.ScheduleKind() != domain.ScheduleKindWeekly && !d.cfg.ResendEnabled {
			noResend = append(noResend, event.ID)
		}
	}
	if err := d.events.MarkEventsDeleted(ctx, retired); err != nil {
		return fmt.Errorf("failed to retire events: %w", err)
	}
	if len(noResend) > 0 {
		if err := d.events.SetNoResend(ctx, noResend); err != nil {
			return fmt.Errorf("failed to flag no-resend: %w", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, participant *domain.Participant, token *domain.FCMToken, events []*domain.ScheduledEvent, now time.Time, sendErr error) error {
	status := NormalizeFailure(sendErr)

	if QuotaExceeded.Has(sendErr) && d.cfg.BlockQuotaErrors {
		// events stay pending; the next pass retries after the quota
		// window rolls over
		d.logger.Warn("push quota exceeded",
			zap.Int64("participant_id", participant.ID))
		return nil
	}

	for _, event := range events {
		if err := d.archive(ctx, event, now, status); err != nil {
			return err
		}
	}

	if Unregistered.Has(sendErr) {
		if err := d.participants.UnregisterToken(ctx, token.Token, now); err != nil {
			return fmt.Errorf("failed to unregister token: %w", err)
		}
		d.logger.Info("token unregistered by push service",
			zap.Int64("participant_id", participant.ID))
		return nil
	}

	count, err := d.participants.IncrementUnreachable(ctx, participant.ID)
	if err != nil {
		return fmt.Errorf("failed to bump unreachable count: %w", err)
	}
	if count >= d.cfg.AttemptBudget {
		if err := d.participants.UnregisterToken(ctx, token.Token, now); err != nil {
			return fmt.Errorf("failed to unregister token: %w", err)
		}
		d.logger.Warn("participant unreachable, token written off",
			zap.Int64("participant_id", participant.ID),
			zap.Int("attempts", count))
	}
	return nil
}

func (d *Dispatcher) archive(ctx context.Context, event *domain.ScheduledEvent, now time.Time, status string) error {
	archive, err := d.surveys.LatestArchive(ctx, event.SurveyID)
	if err != nil {
		return fmt.Errorf("failed to resolve survey archive: %w", err)
	}
	record := &domain.ArchivedEvent{
		ParticipantID:   event.ParticipantID,
		SurveyArchiveID: archive.ID,
		ScheduleKind:    event.ScheduleKind(),
		ScheduledTime:   event.ScheduledTime,
		AttemptedTime:   now,
		Status:          status,
		UUID:            sql.NullString{String: event.UUID, Valid: event.UUID != ""},
	}
	if err := d.events.InsertArchivedEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to archive dispatch attempt: %w", err)
	}
	return nil
}

// ProcessReports folds device receipts into dispatch history. Each
// receipt confirms one notification uuid as received.
func (d *Dispatcher) ProcessReports(ctx context.Context) error {
	reports, err := d.events.UnappliedReports(ctx)
	if err != nil {
		return fmt.Errorf("failed to query unapplied reports: %w", err)
	}
	for _, report := range reports {
		if err := d.events.ApplyReport(ctx, report); err != nil {
			d.logger.Error("failed to apply notification report",
				zap.String("uuid", report.UUID), zap.Error(err))
		}
	}
	return nil
}

// ResendStale resurrects scheduled events whose send succeeded but was
// never confirmed by the device within the resend period.
func (d *Dispatcher) ResendStale(ctx context.Context) error {
	if !d.cfg.ResendEnabled {
		return nil
	}
	staleBefore := d.now().Add(-time.Duration(d.cfg.ResendPeriodMinutes) * time.Minute)
	candidates, err := d.events.ResendCandidates(ctx, d.resendEnabledAfter, staleBefore)
	if err != nil {
		return fmt.Errorf("failed to query resend candidates: %w", err)
	}
	var resent []int64
	for _, archived := range candidates {
		if !archived.UUID.Valid {
			continue
		}
		if err := d.events.ResurrectEvent(ctx, archived.UUID.String); err != nil {
			d.logger.Error("failed to resurrect event",
				zap.String("uuid", archived.UUID.String), zap.Error(err))
			continue
		}
		resent = append(resent, archived.ID)
		d.logger.Info("resurrected unconfirmed notification",
			zap.String("uuid", archived.UUID.String),
			zap.Int64("participant_id", archived.ParticipantID))
	}
	// stamping the archived rows re-arms the resend timer; without it
	// the same uuid would be resent on every pass
	if err := d.events.MarkResent(ctx, resent); err != nil {
		return fmt.Errorf("failed to stamp resent events: %w", err)
	}
	return nil
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(buf)
}
