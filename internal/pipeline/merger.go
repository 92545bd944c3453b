package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/repository"
)

// ChunkFailedToExist marks a registry row whose blob is gone. The stale
// row is purged and the contributing uploads retry next cycle. Observed
// in production when processing dies between the registry write and the
// blob upload.
var ChunkFailedToExist = errs.Class("chunk failed to exist")

// Merger consumes accumulated bins, pulls in already-present chunk
// data, merges the row sets, and rewrites blob and registry row.
type Merger struct {
	chunks  repository.ChunksRepository
	surveys repository.SurveysRepository
	store   *objectstore.Store
	logger  *zap.Logger
}

func NewMerger(chunks repository.ChunksRepository, surveys repository.SurveysRepository, store *objectstore.Store, logger *zap.Logger) *Merger {
	return &Merger{chunks: chunks, surveys: surveys, store: store, logger: logger}
}

// MergeResult reports the fate of a page's uploads. Retired holds ids
// whose every contributing bin succeeded.
type MergeResult struct {
	Retired     []int64
	Failed      []int64
	EarliestBin int64
	LatestBin   int64
	HasBins     bool
}

// Run drains the accumulator. Per-bin failures are contained: the bin's
// contributing uploads go to Failed and iteration continues. An upload
// is retired only when none of its bins failed.
func (m *Merger) Run(ctx context.Context, study *domain.Study, participant *domain.Participant, acc *Accumulator) MergeResult {
	result := MergeResult{}
	contributed := make(map[int64]struct{})
	failed := make(map[int64]struct{})

	for {
		key, entry, ok := acc.pop()
		if !ok {
			break
		}
		for _, id := range entry.uploadIDs {
			contributed[id] = struct{}{}
		}
		if !result.HasBins || key.TimeBin < result.EarliestBin {
			result.EarliestBin = key.TimeBin
		}
		if !result.HasBins || key.TimeBin > result.LatestBin {
			result.LatestBin = key.TimeBin
		}
		result.HasBins = true

		if err := m.mergeBin(ctx, study, participant, key, entry.rows, acc); err != nil {
			for _, id := range entry.uploadIDs {
				failed[id] = struct{}{}
			}
			m.logger.Error("failed to merge bin",
				zap.String("patient_id", key.PatientID),
				zap.String("data_stream", key.DataStream),
				zap.Int64("time_bin", key.TimeBin),
				zap.Error(err))
		}
	}

	for id := range contributed {
		if _, bad := failed[id]; bad {
			result.Failed = append(result.Failed, id)
		} else {
			result.Retired = append(result.Retired, id)
		}
	}
	return result
}

func (m *Merger) mergeBin(ctx context.Context, study *domain.Study, participant *domain.Participant, key BinKey, rows [][][]byte, acc *Accumulator) error {
	header := InsertUTCTimeColumn([]byte(key.Header), rows)
	path := objectstore.ChunkPath(key.StudyObjectID, key.PatientID, key.DataStream, key.TimeBin)

	existing, err := m.chunks.GetByPath(ctx, path)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return m.newChunk(ctx, study, participant, key, path, header, rows, acc)
	}
	return m.mergeIntoChunk(ctx, study, participant, existing, key, path, header, rows)
}

func (m *Merger) newChunk(ctx context.Context, study *domain.Study, participant *domain.Participant, key BinKey, path string, header []byte, rows [][][]byte, acc *Accumulator) error {
	rows = SortByTimestamp(rows)
	finalHeader := m.validateOneHeader(header, key, participant.OSType)
	contents := ConstructCSV(finalHeader, rows)

	surveyID, err := m.resolveSurveyID(ctx, key, acc)
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, path, contents, study, participant.ID); err != nil {
		return err
	}
	return m.chunks.Upsert(ctx, &domain.Chunk{
		StudyID:       study.ID,
		ParticipantID: participant.ID,
		DataStream:    key.DataStream,
		TimeBin:       objectstore.TimeBinHour(key.TimeBin),
		Path:          path,
		Hash:          objectstore.ChunkHash(contents),
		Size:          int64(len(contents)),
		SurveyID:      surveyID,
	})
}

func (m *Merger) mergeIntoChunk(ctx context.Context, study *domain.Study, participant *domain.Participant, existing *domain.Chunk, key BinKey, path string, header []byte, newRows [][][]byte) error {
	old, err := m.store.Get(ctx, path, study)
	if err != nil {
		if objectstore.NoSuchKey.Has(err) {
			// registry row points at nothing; purge it and let the
			// uploads re-run next cycle
			if delErr := m.chunks.DeleteByPath(ctx, path); delErr != nil {
				return delErr
			}
			return ChunkFailedToExist.New("%s has a registry row but no blob", path)
		}
		return err
	}

	oldHeader, oldRows := SplitCSV(old)
	finalHeader := m.validateTwoHeaders(oldHeader, header, key, participant.OSType)

	merged := append(oldRows, newRows...)
	merged = SortByTimestamp(merged)
	contents := ConstructCSV(finalHeader, merged)

	if err := m.store.Put(ctx, path, contents, study, existing.ParticipantID); err != nil {
		return err
	}
	existing.Hash = objectstore.ChunkHash(contents)
	existing.Size = int64(len(contents))
	return m.chunks.Upsert(ctx, existing)
}

func (m *Merger) resolveSurveyID(ctx context.Context, key BinKey, acc *Accumulator) (sql.NullInt64, error) {
	if !IsSurveyStream(key.DataStream) {
		return sql.NullInt64{}, nil
	}
	objectID := acc.surveyIDs[SurveyKey{
		StudyObjectID: key.StudyObjectID,
		PatientID:     key.PatientID,
		DataStream:    key.DataStream,
		Header:        key.Header,
	}]
	survey, err := m.surveys.GetSurveyByObjectID(ctx, objectID)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: survey.ID, Valid: true}, nil
}

func (m *Merger) validateOneHeader(header []byte, key BinKey, osType string) []byte {
	canonical, ok := CanonicalHeader(key.DataStream, osType)
	if !ok {
		return header
	}
	if bytes.Equal(header, canonical) {
		return canonical
	}
	m.logger.Warn("bad_header_2",
		zap.String("data_stream", key.DataStream),
		zap.ByteString("header", header),
		zap.ByteString("expected", canonical))
	return canonical
}

func (m *Merger) validateTwoHeaders(headerA, headerB []byte, key BinKey, osType string) []byte {
	if bytes.Equal(headerA, headerB) {
		return m.validateOneHeader(headerA, key, osType)
	}
	canonical, ok := CanonicalHeader(key.DataStream, osType)
	if !ok {
		return headerA
	}
	// one side matching the canonical covers a participant who changed
	// their device os between uploads
	if bytes.Equal(headerA, canonical) || bytes.Equal(headerB, canonical) {
		return canonical
	}
	m.logger.Warn("bad_header_1",
		zap.String("data_stream", key.DataStream),
		zap.ByteString("header_a", headerA),
		zap.ByteString("header_b", headerB),
		zap.ByteString("expected", canonical))
	return canonical
}
