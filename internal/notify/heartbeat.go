package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/repository"
)

// Participants silent longer than this are written off for heartbeats
// until they check in again.
const heartbeatActiveWindow = 7 * 24 * time.Hour

// Heartbeat nudges participants whose devices have gone quiet. One
// notification per heartbeat period; the send itself stamps
// last_heartbeat_notification, which pushes the next send out by a full
// period.
type Heartbeat struct {
	studies      repository.StudiesRepository
	participants repository.ParticipantsRepository
	pusher       Pusher
	logger       *zap.Logger

	now func() time.Time
}

func NewHeartbeat(
	studies repository.StudiesRepository,
	participants repository.ParticipantsRepository,
	pusher Pusher,
	logger *zap.Logger,
) *Heartbeat {
	return &Heartbeat{
		studies:      studies,
		participants: participants,
		pusher:       pusher,
		logger:       logger,
		now:          time.Now,
	}
}

// Run performs one heartbeat pass over every running study.
func (h *Heartbeat) Run(ctx context.Context) error {
	if !h.pusher.Ready() {
		h.logger.Info("push service not configured, skipping heartbeat pass")
		return nil
	}

	studies, err := h.studies.ListRunningStudies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running studies: %w", err)
	}
	for _, study := range studies {
		if study.HeartbeatTimerMinutes <= 0 {
			continue
		}
		if err := h.runStudy(ctx, study); err != nil {
			h.logger.Error("heartbeat pass failed for study",
				zap.String("study", study.ObjectID), zap.Error(err))
		}
	}
	return nil
}

func (h *Heartbeat) runStudy(ctx context.Context, study *domain.Study) error {
	participants, err := h.participants.ListByStudy(ctx, study.ID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	now := h.now()
	// the minute of slack keeps a 6-minute dispatch cadence from
	// drifting a whole extra cycle past the configured period
	period := time.Duration(study.HeartbeatTimerMinutes-1) * time.Minute

	for _, participant := range participants {
		if !participant.Pushable() {
			continue
		}
		lastActive := participant.LastActive()
		if lastActive.IsZero() || now.Sub(lastActive) > heartbeatActiveWindow {
			continue
		}
		lastContact := lastActive
		if participant.LastHeartbeatNotification != nil && participant.LastHeartbeatNotification.After(lastContact) {
			lastContact = *participant.LastHeartbeatNotification
		}
		if !now.After(lastContact.Add(period)) {
			continue
		}
		h.send(ctx, study, participant, now)
	}
	return nil
}

func (h *Heartbeat) send(ctx context.Context, study *domain.Study, participant *domain.Participant, now time.Time) {
	token, err := h.participants.ActiveToken(ctx, participant.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			h.logger.Error("failed to load fcm token",
				zap.Int64("participant_id", participant.ID), zap.Error(err))
		}
		return
	}

	body := study.HeartbeatMessage
	if body == "" {
		body = defaultHeartbeat
	}
	msg := Message{
		Title:     surveyTitle,
		Body:      body,
		Data:      map[string]string{"type": "heartbeat"},
		OSType:    participant.OSType,
		ShowAlert: true,
	}
	if err := h.pusher.Send(ctx, token.Token, msg); err != nil {
		h.logger.Warn("heartbeat send failed",
			zap.Int64("participant_id", participant.ID),
			zap.String("status", NormalizeFailure(err)))
		return
	}
	if err := h.participants.StampLiveness(ctx, participant.ID, repository.LivenessHeartbeatNotification, now); err != nil {
		h.logger.Error("failed to stamp heartbeat notification",
			zap.Int64("participant_id", participant.ID), zap.Error(err))
		return
	}
	h.logger.Info("heartbeat sent",
		zap.Int64("participant_id", participant.ID),
		zap.String("patient_id", participant.PatientID))
}
