package repository

import (
	"context"
	"database/sql"
	"fmt"

	"skylark-data/internal/domain"
)

// PostgresBlobsRepository per-object storage accounting, keyed by the
// stored (compressed) path. Satisfies objectstore.BlobRecorder.
type PostgresBlobsRepository struct {
	db *sql.DB
}

func NewPostgresBlobsRepository(db *sql.DB) *PostgresBlobsRepository {
	return &PostgresBlobsRepository{db: db}
}

func (r *PostgresBlobsRepository) RecordBlob(ctx context.Context, meta domain.BlobMetadata) error {
	query := `
		INSERT INTO blob_metadata
			(path, last_updated, size_uncompressed, size_compressed,
			 compression_time_ns, decompression_time_ns,
			 encryption_time_ns, decrypt_time_ns,
			 upload_time_ns, download_time_ns,
			 sha1, study_id, participant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (path) DO UPDATE SET
			last_updated = EXCLUDED.last_updated,
			size_uncompressed = EXCLUDED.size_uncompressed,
			size_compressed = EXCLUDED.size_compressed,
			compression_time_ns = EXCLUDED.compression_time_ns,
			encryption_time_ns = EXCLUDED.encryption_time_ns,
			upload_time_ns = EXCLUDED.upload_time_ns,
			sha1 = EXCLUDED.sha1
	`
	_, err := r.db.ExecContext(ctx, query,
		meta.Path, meta.LastUpdated, meta.SizeUncompressed, meta.SizeCompressed,
		meta.CompressionNS, meta.DecompressionNS,
		meta.EncryptionNS, meta.DecryptionNS,
		meta.UploadNS, meta.DownloadNS,
		meta.SHA1, meta.StudyID, meta.ParticipantID,
	)
	if err != nil {
		return fmt.Errorf("failed to record blob metadata: %w", err)
	}
	return nil
}

// RecordRead refreshes the download-path timings for a stored object.
// Reading an object that predates accounting matches no row and is a
// no-op.
func (r *PostgresBlobsRepository) RecordRead(ctx context.Context, path string, downloadNS, decryptNS, decompressNS int64) error {
	query := `
		UPDATE blob_metadata
		SET download_time_ns = $2, decrypt_time_ns = $3, decompression_time_ns = $4
		WHERE path = $1
	`
	if _, err := r.db.ExecContext(ctx, query, path, downloadNS, decryptNS, decompressNS); err != nil {
		return fmt.Errorf("failed to record read timings: %w", err)
	}
	return nil
}
