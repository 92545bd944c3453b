package domain

import "time"

// Study domain model (studies table).
// The encryption key is immutable for the study's lifetime; destroying
// it destroys all of the study's stored data.
type Study struct {
	ID       int64  `db:"id"`
	ObjectID string `db:"object_id"` // 24 char ascii, globally unique

	Name          string `db:"name"`
	EncryptionKey []byte `db:"encryption_key"` // 32 bytes, AES-256
	TimezoneName  string `db:"timezone_name"`  // IANA name, default "UTC"

	Deleted         bool       `db:"deleted"`
	ManuallyStopped bool       `db:"manually_stopped"`
	EndDate         *time.Time `db:"end_date"`

	// device settings that matter to the backend
	HeartbeatMessage      string `db:"heartbeat_message"`
	HeartbeatTimerMinutes int    `db:"heartbeat_timer_minutes"`

	Created     time.Time `db:"created_on"`
	LastUpdated time.Time `db:"last_updated"`
}

// Stopped reports whether data collection for the study has ended.
func (s *Study) Stopped(now time.Time) bool {
	if s.Deleted || s.ManuallyStopped {
		return true
	}
	return s.EndDate != nil && s.EndDate.Before(now)
}

// Timezone resolves the study timezone, falling back to UTC on a bad or
// empty name (matching the lenient handling everywhere else).
func (s *Study) Timezone() *time.Location {
	if s.TimezoneName == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimezoneName)
	if err != nil {
		return time.UTC
	}
	return loc
}
