package domain

import (
	"database/sql"
	"time"
)

// Chunk registry entry for one stored artifact (chunk_registry table).
// chunk_path is unique; for chunkable streams time_bin is the UTC hour
// the rows belong to.
type Chunk struct {
	ID            int64  `db:"id"`
	StudyID       int64  `db:"study_id"`
	ParticipantID int64  `db:"participant_id"`
	DataStream    string `db:"data_stream"`

	TimeBin time.Time `db:"time_bin"` // UTC, hour aligned for chunkable streams
	Path    string    `db:"chunk_path"`
	Hash    string    `db:"chunk_hash"` // sha1 of plaintext, base64
	Size    int64     `db:"file_size"`

	SurveyID sql.NullInt64 `db:"survey_id"` // survey data streams only

	LastUpdated time.Time `db:"last_updated"`
}

// BlobMetadata per-object storage accounting (blob_metadata table),
// keyed by the compressed path. Written on every encrypted upload.
type BlobMetadata struct {
	Path             string    `db:"path"`
	LastUpdated      time.Time `db:"last_updated"`
	SizeUncompressed int64     `db:"size_uncompressed"`
	SizeCompressed   int64     `db:"size_compressed"`
	CompressionNS    int64     `db:"compression_time_ns"`
	DecompressionNS  int64     `db:"decompression_time_ns"`
	EncryptionNS     int64     `db:"encryption_time_ns"`
	DecryptionNS     int64     `db:"decrypt_time_ns"`
	UploadNS         int64     `db:"upload_time_ns"`
	DownloadNS       int64     `db:"download_time_ns"`
	SHA1             string    `db:"sha1"` // hex of plaintext
	StudyID          int64     `db:"study_id"`
	ParticipantID    int64     `db:"participant_id"`
}
