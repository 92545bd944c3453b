package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/repository"
)

// DefaultPageSize bounds how many uploads are held in memory at once.
// Aggressive recording sessions produce very large pages of small
// files, so the cap matters more than throughput.
const DefaultPageSize = 100

// Driver runs the chunking pipeline for one participant at a time.
// Per-participant runs must not overlap; the job layer enforces that.
type Driver struct {
	uploads   repository.UploadsRepository
	chunks    repository.ChunksRepository
	surveys   repository.SurveysRepository
	summaries repository.SummariesRepository
	store     *objectstore.Store
	merger    *Merger
	logger    *zap.Logger
	pageSize  int
}

func NewDriver(
	uploads repository.UploadsRepository,
	chunks repository.ChunksRepository,
	surveys repository.SurveysRepository,
	summaries repository.SummariesRepository,
	store *objectstore.Store,
	logger *zap.Logger,
	pageSize int,
) *Driver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Driver{
		uploads:   uploads,
		chunks:    chunks,
		surveys:   surveys,
		summaries: summaries,
		store:     store,
		merger:    NewMerger(chunks, surveys, store, logger),
		logger:    logger,
		pageSize:  pageSize,
	}
}

// Process drains the participant's upload inbox page by page. Files
// that fail stay in the inbox for the next cycle; one bad file never
// stalls the participant.
func (d *Driver) Process(ctx context.Context, study *domain.Study, participant *domain.Participant) error {
	latestMS := LatestPossibleDataMS(time.Now())
	processedAny := false

	// keyset cursor over s3_path; it always moves past the last record
	// fetched, so failing files are skipped within a run and come back
	// on the next cycle without stalling the rest of the backlog
	afterPath := ""
	for {
		page, err := d.uploads.PendingPage(ctx, participant.ID, afterPath, d.pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		afterPath = page[len(page)-1].Path
		processedAny = true

		acc := NewAccumulator()
		var retireNow []int64

		for _, upload := range page {
			retire, err := d.processOneFile(ctx, study, participant, upload, acc, latestMS)
			if err != nil {
				d.logger.Error("failed to process upload",
					zap.String("patient_id", participant.PatientID),
					zap.String("path", upload.Path),
					zap.Error(err))
				continue
			}
			if retire {
				retireNow = append(retireNow, upload.ID)
			}
		}

		result := d.merger.Run(ctx, study, participant, acc)
		retired := append(retireNow, result.Retired...)
		if err := d.uploads.Retire(ctx, retired); err != nil {
			return err
		}
		d.logger.Info("processed upload page",
			zap.String("patient_id", participant.PatientID),
			zap.Int("page", len(page)),
			zap.Int("retired", len(retired)),
			zap.Int("failed", len(result.Failed)))
	}

	if processedAny {
		if err := d.refreshSummaries(ctx, study, participant); err != nil {
			d.logger.Warn("failed to refresh data summaries",
				zap.String("patient_id", participant.PatientID), zap.Error(err))
		}
	}
	return nil
}

// processOneFile routes a single upload. The bool reports whether the
// upload can be retired right away (unchunked, header-only, or fully
// out-of-range files); chunkable uploads with rows are decided by the
// merge step instead.
func (d *Driver) processOneFile(ctx context.Context, study *domain.Study, participant *domain.Participant, upload *domain.UploadRecord, acc *Accumulator, latestMS int64) (bool, error) {
	contents, err := d.store.Get(ctx, upload.Path, study)
	if err != nil {
		if objectstore.NoSuchKey.Has(err) {
			// the object vanished under its inbox record
			return true, nil
		}
		return false, err
	}

	stream, err := StreamFromPath(upload.Path)
	if err != nil {
		return d.quarantine(ctx, upload, contents), nil
	}

	if !Chunkable(stream) {
		return d.registerUnchunked(ctx, study, participant, upload, stream, contents, latestMS)
	}

	header, rows := PrepareCSV(stream, participant.OSType, upload.Path, contents)
	if len(rows) == 0 {
		return true, nil
	}
	bins := BinifyRows(study.ObjectID, participant.PatientID, stream, header, rows, latestMS)
	if len(bins) == 0 {
		// every row was out of sanity range
		return true, nil
	}
	acc.Append(bins, upload.ID)
	if IsSurveyStream(stream) {
		acc.RecordSurveyID(SurveyKey{
			StudyObjectID: study.ObjectID,
			PatientID:     participant.PatientID,
			DataStream:    stream,
			Header:        string(header),
		}, SurveyIDFromPath(upload.Path))
	}
	return false, nil
}

// registerUnchunked records a non-csv artifact (audio and the like) in
// the registry at its original path. The timestamp lives in the file
// name; an unparsable one retires the upload without a registry row.
func (d *Driver) registerUnchunked(ctx context.Context, study *domain.Study, participant *domain.Participant, upload *domain.UploadRecord, stream string, contents []byte, latestMS int64) (bool, error) {
	ms, err := ParseTimecodeMS(filenameTimestamp(upload.Path), latestMS)
	if err != nil {
		return true, nil
	}

	surveyID := sql.NullInt64{}
	if IsSurveyStream(stream) || stream == AudioRecording {
		if objectID := SurveyIDFromPath(upload.Path); objectID != "" {
			if survey, err := d.surveys.GetSurveyByObjectID(ctx, objectID); err == nil {
				surveyID = sql.NullInt64{Int64: survey.ID, Valid: true}
			}
		}
	}

	chunk := &domain.Chunk{
		StudyID:       study.ID,
		ParticipantID: participant.ID,
		DataStream:    stream,
		TimeBin:       time.UnixMilli(ms).UTC(),
		Path:          upload.Path,
		Hash:          objectstore.ChunkHash(contents),
		Size:          int64(len(contents)),
		SurveyID:      surveyID,
	}

	if existing, err := d.chunks.GetByPath(ctx, upload.Path); err == nil {
		// re-uploaded duplicate path: refresh size and hash in place
		existing.Hash = chunk.Hash
		existing.Size = chunk.Size
		chunk = existing
	} else if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err := d.chunks.Upsert(ctx, chunk); err != nil {
		return false, err
	}
	return true, nil
}

// quarantine copies a file no stream claims into the problem uploads
// folder and retires it so it stops cycling through the inbox. The
// copy is kept for manual inspection.
func (d *Driver) quarantine(ctx context.Context, upload *domain.UploadRecord, contents []byte) bool {
	path := objectstore.ProblemUploadsFolder + "/" + upload.Path
	if err := d.store.PutPlaintext(ctx, path, contents); err != nil {
		d.logger.Error("failed to quarantine upload",
			zap.String("path", upload.Path), zap.Error(err))
		return false
	}
	d.logger.Warn("quarantined unprocessable upload", zap.String("path", upload.Path))
	return true
}

func (d *Driver) refreshSummaries(ctx context.Context, study *domain.Study, participant *domain.Participant) error {
	all, err := d.chunks.SummarizeByDay(ctx, study.ID, study.Timezone().String())
	if err != nil {
		return err
	}
	var mine []*domain.DataSummary
	for _, s := range all {
		if s.ParticipantID == participant.ID {
			mine = append(mine, s)
		}
	}
	return d.summaries.ReplaceForParticipant(ctx, participant.ID, mine)
}
