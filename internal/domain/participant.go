package domain

import "time"

// OS type tags as reported by the mobile apps.
const (
	AndroidAPI = "ANDROID_API"
	IOSAPI     = "IOS_API"
	NullOS     = ""
)

// Participant domain model (participants table).
// patient_id is unique within a study.
type Participant struct {
	ID        int64  `db:"id"`
	StudyID   int64  `db:"study_id"`
	PatientID string `db:"patient_id"` // short printable identifier

	OSType          string `db:"os_type"` // ANDROID_API / IOS_API / ''
	TimezoneName    string `db:"timezone_name"`
	UnknownTimezone bool   `db:"unknown_timezone"`

	Deleted            bool `db:"deleted"`
	PermanentlyRetired bool `db:"permanently_retired"`

	// push notification bookkeeping
	PushUnreachableCount int `db:"push_notification_unreachable_count"`

	// liveness timestamps, all nullable; the most recent one decides
	// whether the participant counts as active for heartbeats
	LastUpload                  *time.Time `db:"last_upload"`
	LastGetLatestSurveys        *time.Time `db:"last_get_latest_surveys"`
	LastSetPassword             *time.Time `db:"last_set_password"`
	LastSetFCMToken             *time.Time `db:"last_set_fcm_token"`
	LastGetLatestDeviceSettings *time.Time `db:"last_get_latest_device_settings"`
	LastRegisterUser            *time.Time `db:"last_register_user"`
	LastHeartbeatCheckin        *time.Time `db:"last_heartbeat_checkin"`
	LastHeartbeatNotification   *time.Time `db:"last_heartbeat_notification"`
}

// Pushable reports whether the participant may receive any push
// notification at all.
func (p *Participant) Pushable() bool {
	return !p.Deleted && !p.PermanentlyRetired
}

// LastActive returns the most recent liveness timestamp, or the zero
// time when the participant has never checked in.
func (p *Participant) LastActive() time.Time {
	var latest time.Time
	for _, t := range []*time.Time{
		p.LastUpload, p.LastGetLatestSurveys, p.LastSetPassword,
		p.LastSetFCMToken, p.LastGetLatestDeviceSettings,
		p.LastRegisterUser, p.LastHeartbeatCheckin,
	} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	return latest
}

// FCMToken push credential history (fcm_tokens table). A token with a
// non-null unregistered timestamp is dead.
type FCMToken struct {
	ID            int64      `db:"id"`
	ParticipantID int64      `db:"participant_id"`
	Token         string     `db:"token"`
	Unregistered  *time.Time `db:"unregistered"`
}
