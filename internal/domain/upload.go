package domain

import "time"

// UploadRecord a device upload awaiting chunking (upload_inbox table).
// The path points at an existing encrypted blob in the object store.
type UploadRecord struct {
	ID            int64     `db:"id"`
	ParticipantID int64     `db:"participant_id"`
	StudyID       int64     `db:"study_id"`
	Path          string    `db:"s3_path"`
	OSType        string    `db:"os_type"`
	Deleted       bool      `db:"deleted"`
	Created       time.Time `db:"created_on"`
}
