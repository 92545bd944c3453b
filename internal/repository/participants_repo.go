package repository

import (
	"context"
	"time"

	"skylark-data/internal/domain"
)

// Liveness timestamp columns a caller may stamp. Only these names are
// accepted; anything else is a programming error.
const (
	LivenessUpload                  = "last_upload"
	LivenessGetLatestSurveys        = "last_get_latest_surveys"
	LivenessSetPassword             = "last_set_password"
	LivenessSetFCMToken             = "last_set_fcm_token"
	LivenessGetLatestDeviceSettings = "last_get_latest_device_settings"
	LivenessRegisterUser            = "last_register_user"
	LivenessHeartbeatCheckin        = "last_heartbeat_checkin"
	LivenessHeartbeatNotification   = "last_heartbeat_notification"
)

// ParticipantsRepository participants plus their push credentials.
type ParticipantsRepository interface {
	GetParticipant(ctx context.Context, id int64) (*domain.Participant, error)
	GetParticipantByPatientID(ctx context.Context, studyID int64, patientID string) (*domain.Participant, error)
	ListByStudy(ctx context.Context, studyID int64) ([]*domain.Participant, error)

	// StampLiveness sets one liveness column to now. column must be one
	// of the Liveness* constants.
	StampLiveness(ctx context.Context, participantID int64, column string, now time.Time) error

	// ActiveToken returns the newest non-unregistered fcm token for the
	// participant, or sql.ErrNoRows wrapped when there is none.
	ActiveToken(ctx context.Context, participantID int64) (*domain.FCMToken, error)

	// SetToken registers a fresh token, unregistering any previous live
	// tokens for the participant.
	SetToken(ctx context.Context, participantID int64, token string, now time.Time) error

	// UnregisterToken marks the token dead wherever it is still live.
	UnregisterToken(ctx context.Context, token string, now time.Time) error

	// IncrementUnreachable bumps the consecutive-failure counter and
	// returns the new value.
	IncrementUnreachable(ctx context.Context, participantID int64) (int, error)

	// ResetUnreachable clears the counter after a successful send.
	ResetUnreachable(ctx context.Context, participantID int64) error
}
