package objectstore

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
)

// KeyVersion identifies one historical version of an object.
type KeyVersion struct {
	Key       string
	VersionID string // empty when the bucket is unversioned
}

// Backend is the raw bucket surface. Implementations return NoSuchKey
// for absent objects and Transport for failures worth retrying.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Size(ctx context.Context, key string) (int64, error)
	// List walks keys under prefix in lexical order, starting strictly
	// after startAfter when it is non-empty.
	List(ctx context.Context, prefix, startAfter string, fn func(key string) error) error
	// ListVersions walks all historical versions under prefix.
	ListVersions(ctx context.Context, prefix string, fn func(key, versionID string) error) error
	Delete(ctx context.Context, key string) error
	DeleteVersion(ctx context.Context, key, versionID string) error
	DeleteManyVersions(ctx context.Context, pairs []KeyVersion) (int, error)
}

// BlobRecorder persists per-object accounting for encrypted uploads
// and reads.
type BlobRecorder interface {
	RecordBlob(ctx context.Context, meta domain.BlobMetadata) error

	// RecordRead refreshes the download-path timings of the stored key.
	RecordRead(ctx context.Context, path string, downloadNS, decryptNS, decompressNS int64) error
}

const transportRetries = 3

// Store layers the at-rest pipeline over a Backend:
// upload is sha1 -> compress -> encrypt -> put, download is
// get -> decrypt -> decompress. Encrypted objects live at the caller
// path plus the compressed suffix.
type Store struct {
	backend  Backend
	level    int
	recorder BlobRecorder // nil disables accounting
	logger   *zap.Logger
}

func New(backend Backend, compressionLevel int, recorder BlobRecorder, logger *zap.Logger) *Store {
	if compressionLevel < 1 {
		compressionLevel = DefaultCompressionLevel
	}
	return &Store{backend: backend, level: compressionLevel, recorder: recorder, logger: logger}
}

// ChunkHash is the registry content hash: sha1 of the plaintext csv,
// base64 encoded.
func ChunkHash(plaintext []byte) string {
	sum := sha1.Sum(plaintext)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Put compresses and encrypts plaintext under the study key and writes
// it at path + ".zst". participantID may be zero for study-level files.
func (s *Store) Put(ctx context.Context, path string, plaintext []byte, study *domain.Study, participantID int64) error {
	if err := ValidateEncryptedPath(path); err != nil {
		return err
	}

	sum := sha1.Sum(plaintext)

	t := time.Now()
	compressed, err := Compress(plaintext, s.level)
	if err != nil {
		return err
	}
	compressionNS := time.Since(t).Nanoseconds()

	t = time.Now()
	sealed, err := Encrypt(compressed, study.EncryptionKey)
	if err != nil {
		return err
	}
	encryptionNS := time.Since(t).Nanoseconds()

	key := path + CompressedSuffix
	t = time.Now()
	if err := s.putRetry(ctx, key, sealed); err != nil {
		return err
	}
	uploadNS := time.Since(t).Nanoseconds()

	if s.recorder != nil {
		meta := domain.BlobMetadata{
			Path:             key,
			LastUpdated:      time.Now().UTC(),
			SizeUncompressed: int64(len(plaintext)),
			SizeCompressed:   int64(len(compressed)),
			CompressionNS:    compressionNS,
			EncryptionNS:     encryptionNS,
			UploadNS:         uploadNS,
			SHA1:             hex.EncodeToString(sum[:]),
			StudyID:          study.ID,
			ParticipantID:    participantID,
		}
		if err := s.recorder.RecordBlob(ctx, meta); err != nil {
			// accounting must never fail a data write
			s.logger.Warn("failed to record blob metadata",
				zap.String("path", key), zap.Error(err))
		}
	}
	return nil
}

// PutPlaintext writes bytes verbatim, no encryption or compression.
// Used for logs and deploy scripts only.
func (s *Store) PutPlaintext(ctx context.Context, path string, data []byte) error {
	return s.putRetry(ctx, path, data)
}

// GetPlaintext reads bytes written by PutPlaintext verbatim.
func (s *Store) GetPlaintext(ctx context.Context, path string) ([]byte, error) {
	return s.getRetry(ctx, path)
}

// PutKeyPair stores a participant's RSA keypair under the study's key
// folder. Generation happens at registration time, outside this
// service.
func (s *Store) PutKeyPair(ctx context.Context, study *domain.Study, patientID string, public, private []byte) error {
	publicPath, privatePath := KeyPairPaths(study.ObjectID, patientID)
	if err := s.Put(ctx, publicPath, public, study, 0); err != nil {
		return err
	}
	return s.Put(ctx, privatePath, private, study, 0)
}

// GetKeyPair reads a participant's stored RSA keypair.
func (s *Store) GetKeyPair(ctx context.Context, study *domain.Study, patientID string) (public, private []byte, err error) {
	publicPath, privatePath := KeyPairPaths(study.ObjectID, patientID)
	public, err = s.Get(ctx, publicPath, study)
	if err != nil {
		return nil, nil, err
	}
	private, err = s.Get(ctx, privatePath, study)
	if err != nil {
		return nil, nil, err
	}
	return public, private, nil
}

// Get reads the object at path, preferring the compressed form. When
// only the legacy uncompressed form exists it is transparently
// re-uploaded compressed and the legacy object deleted.
func (s *Store) Get(ctx context.Context, path string, study *domain.Study) ([]byte, error) {
	key := path + CompressedSuffix
	t := time.Now()
	sealed, err := s.getRetry(ctx, key)
	if err == nil {
		downloadNS := time.Since(t).Nanoseconds()

		t = time.Now()
		compressed, err := Decrypt(sealed, study.EncryptionKey)
		if err != nil {
			return nil, err
		}
		decryptNS := time.Since(t).Nanoseconds()

		t = time.Now()
		plaintext, err := Decompress(compressed)
		if err != nil {
			return nil, err
		}
		if s.recorder != nil {
			err := s.recorder.RecordRead(ctx, key, downloadNS, decryptNS, time.Since(t).Nanoseconds())
			if err != nil {
				// accounting must never fail a data read
				s.logger.Warn("failed to record read timings",
					zap.String("path", key), zap.Error(err))
			}
		}
		return plaintext, nil
	}
	if !NoSuchKey.Has(err) {
		return nil, err
	}

	// legacy uncompressed object: decrypt, then migrate it forward
	legacy, err := s.getRetry(ctx, path)
	if err != nil {
		return nil, err
	}
	plaintext, err := Decrypt(legacy, study.EncryptionKey)
	if err != nil {
		return nil, err
	}
	// participant 0: legacy objects predate blob accounting entirely,
	// and when a row does exist the upsert's conflict clause leaves the
	// stored attribution untouched
	if err := s.Put(ctx, path, plaintext, study, 0); err != nil {
		return nil, err
	}
	if err := s.backend.Delete(ctx, path); err != nil {
		s.logger.Warn("failed to delete legacy uncompressed object",
			zap.String("path", path), zap.Error(err))
	}
	return plaintext, nil
}

// Size heads the object, preferring the compressed form.
func (s *Store) Size(ctx context.Context, path string) (int64, error) {
	n, err := s.backend.Size(ctx, path+CompressedSuffix)
	if err == nil {
		return n, nil
	}
	if !NoSuchKey.Has(err) {
		return 0, err
	}
	return s.backend.Size(ctx, path)
}

// List walks keys under prefix in order; startAfter resumes a previous
// walk.
func (s *Store) List(ctx context.Context, prefix, startAfter string, fn func(key string) error) error {
	return s.backend.List(ctx, prefix, startAfter, fn)
}

// ListVersions walks all historical versions under prefix.
func (s *Store) ListVersions(ctx context.Context, prefix string, fn func(key, versionID string) error) error {
	return s.backend.ListVersions(ctx, prefix, fn)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.backend.Delete(ctx, path)
}

func (s *Store) DeleteVersioned(ctx context.Context, path, versionID string) error {
	return s.backend.DeleteVersion(ctx, path, versionID)
}

// DeleteManyVersioned batch-deletes object versions, returning the
// count removed. Per-object failures surface as a DeleteFailed error
// after the batch completes.
func (s *Store) DeleteManyVersioned(ctx context.Context, pairs []KeyVersion) (int, error) {
	if len(pairs) == 0 {
		return 0, DeleteFailed.New("called with no paths")
	}
	return s.backend.DeleteManyVersions(ctx, pairs)
}

func (s *Store) putRetry(ctx context.Context, key string, data []byte) error {
	var err error
	for attempt := 0; attempt < transportRetries; attempt++ {
		if err = s.backend.Put(ctx, key, data); err == nil {
			return nil
		}
		if !Transport.Has(err) {
			return err
		}
	}
	return err
}

func (s *Store) getRetry(ctx context.Context, key string) ([]byte, error) {
	var err error
	for attempt := 0; attempt < transportRetries; attempt++ {
		var data []byte
		if data, err = s.backend.Get(ctx, key); err == nil {
			return data, nil
		}
		if !Transport.Has(err) {
			return nil, err
		}
		s.logger.Debug("storage get failed, retrying", zap.String("key", key), zap.Error(err))
	}
	return nil, err
}
