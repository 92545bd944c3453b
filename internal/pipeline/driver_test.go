package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
)

type fakeUploads struct {
	records []*domain.UploadRecord
	nextID  int64
}

func (f *fakeUploads) Enqueue(_ context.Context, upload *domain.UploadRecord) error {
	f.nextID++
	upload.ID = f.nextID
	f.records = append(f.records, upload)
	return nil
}

func (f *fakeUploads) PendingPage(_ context.Context, participantID int64, afterPath string, limit int) ([]*domain.UploadRecord, error) {
	var page []*domain.UploadRecord
	for _, r := range f.records {
		if r.ParticipantID == participantID && !r.Deleted && r.Path > afterPath {
			page = append(page, r)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Path < page[j].Path })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (f *fakeUploads) Retire(_ context.Context, ids []int64) error {
	for _, id := range ids {
		for _, r := range f.records {
			if r.ID == id {
				r.Deleted = true
			}
		}
	}
	return nil
}

func (f *fakeUploads) ParticipantsWithPending(context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	for _, r := range f.records {
		if !r.Deleted {
			if _, ok := seen[r.ParticipantID]; !ok {
				seen[r.ParticipantID] = struct{}{}
				out = append(out, r.ParticipantID)
			}
		}
	}
	return out, nil
}

func (f *fakeUploads) CountPending(_ context.Context, participantID int64) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.ParticipantID == participantID && !r.Deleted {
			n++
		}
	}
	return n, nil
}

type fakeSummaries struct {
	replaced map[int64][]*domain.DataSummary
}

func (f *fakeSummaries) ReplaceForParticipant(_ context.Context, participantID int64, summaries []*domain.DataSummary) error {
	if f.replaced == nil {
		f.replaced = make(map[int64][]*domain.DataSummary)
	}
	f.replaced[participantID] = summaries
	return nil
}

func (f *fakeSummaries) ForStudy(context.Context, int64) ([]*domain.DataSummary, error) {
	return nil, nil
}

type driverFixture struct {
	study       *domain.Study
	participant *domain.Participant
	uploads     *fakeUploads
	chunks      *fakeChunks
	surveys     *fakeSurveys
	summaries   *fakeSummaries
	store       *objectstore.Store
	driver      *Driver
}

func newDriverFixture(t *testing.T) *driverFixture {
	t.Helper()
	f := &driverFixture{
		study:       pipelineStudy(),
		participant: pipelineParticipant(domain.AndroidAPI),
		uploads:     &fakeUploads{},
		chunks:      newFakeChunks(),
		surveys:     &fakeSurveys{byObjectID: map[string]*domain.Survey{}},
		summaries:   &fakeSummaries{},
		store:       pipelineStore(),
	}
	f.driver = NewDriver(f.uploads, f.chunks, f.surveys, f.summaries, f.store, zap.NewNop(), 0)
	return f
}

// enqueue stores the bytes and records the pending upload the way the
// device upload endpoint does.
func (f *driverFixture) enqueue(t *testing.T, path string, contents []byte) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), path, contents, f.study, f.participant.ID))
	require.NoError(t, f.uploads.Enqueue(context.Background(), &domain.UploadRecord{
		ParticipantID: f.participant.ID,
		StudyID:       f.study.ID,
		Path:          path,
		OSType:        f.participant.OSType,
	}))
}

func TestDriverProcessesChunkableUpload(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	f.enqueue(t, f.study.ObjectID+"/q41aozrx/gps/1700000000100.csv",
		[]byte("timestamp,latitude,longitude,altitude,accuracy\n"+
			"1700000000100,1,2,3,4\n1699999300000,5,6,7,8\n"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	pending, err := f.uploads.CountPending(ctx, f.participant.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	path := objectstore.ChunkPath(f.study.ObjectID, "q41aozrx", GPS, 1700000000100/TimesliceQuantumMS)
	chunk, err := f.chunks.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, GPS, chunk.DataStream)

	contents, err := f.store.Get(ctx, path, f.study)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "1699999300000,2023-11-14T22:01:40.000,5,6,7,8")
}

func TestDriverRefreshesOnlyOwnSummaries(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	// a chunk belonging to someone else must not land in this
	// participant's summary rows
	require.NoError(t, f.chunks.Upsert(ctx, &domain.Chunk{
		StudyID: 1, ParticipantID: 99, DataStream: GPS,
		TimeBin: time.UnixMilli(1700000000000).UTC(), Path: "other", Size: 10,
	}))
	f.enqueue(t, f.study.ObjectID+"/q41aozrx/gps/1700000000100.csv",
		[]byte("timestamp,latitude,longitude,altitude,accuracy\n1700000000100,1,2,3,4\n"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	rows := f.summaries.replaced[f.participant.ID]
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, f.participant.ID, row.ParticipantID)
	}
}

func TestDriverRetiresHeaderOnlyFile(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	f.enqueue(t, f.study.ObjectID+"/q41aozrx/gps/1700000000100.csv",
		[]byte("timestamp,latitude,longitude,altitude,accuracy"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	pending, _ := f.uploads.CountPending(ctx, f.participant.ID)
	assert.Zero(t, pending)
	assert.Empty(t, f.chunks.byPath)
}

func TestDriverRetiresFullyOutOfRangeFile(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	// device clock reset to the epoch
	f.enqueue(t, f.study.ObjectID+"/q41aozrx/gps/1700000000100.csv",
		[]byte("timestamp,latitude,longitude,altitude,accuracy\n12345,1,2,3,4\n"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	pending, _ := f.uploads.CountPending(ctx, f.participant.ID)
	assert.Zero(t, pending)
	assert.Empty(t, f.chunks.byPath)
}

func TestDriverRegistersAudioRecording(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	f.surveys.byObjectID["abc123def456abc123def456"] = &domain.Survey{ID: 31}
	path := f.study.ObjectID + "/q41aozrx/voiceRecording/abc123def456abc123def456/1700000000100.mp4"
	f.enqueue(t, path, []byte("mp4 bytes"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	chunk, err := f.chunks.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, AudioRecording, chunk.DataStream)
	assert.Equal(t, time.UnixMilli(1700000000100).UTC(), chunk.TimeBin)
	assert.Equal(t, objectstore.ChunkHash([]byte("mp4 bytes")), chunk.Hash)
	require.True(t, chunk.SurveyID.Valid)
	assert.Equal(t, int64(31), chunk.SurveyID.Int64)

	// re-uploading the same path refreshes size and hash in place
	firstID := chunk.ID
	f.enqueue(t, path, []byte("longer mp4 bytes"))
	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	chunk, err = f.chunks.GetByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, firstID, chunk.ID)
	assert.Equal(t, int64(len("longer mp4 bytes")), chunk.Size)
	assert.Equal(t, objectstore.ChunkHash([]byte("longer mp4 bytes")), chunk.Hash)
}

func TestDriverRetiresUnparsableAudioTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	path := f.study.ObjectID + "/q41aozrx/voiceRecording/abc123def456abc123def456/garbage.mp4"
	f.enqueue(t, path, []byte("mp4 bytes"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	pending, _ := f.uploads.CountPending(ctx, f.participant.ID)
	assert.Zero(t, pending)
	_, err := f.chunks.GetByPath(ctx, path)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDriverQuarantinesUnrecognizedStream(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	path := f.study.ObjectID + "/q41aozrx/mystery/1700000000100.csv"
	f.enqueue(t, path, []byte("x"))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	// retired from the inbox, plaintext copy kept for inspection
	pending, _ := f.uploads.CountPending(ctx, f.participant.ID)
	assert.Zero(t, pending)
	copied, err := f.store.GetPlaintext(ctx, objectstore.ProblemUploadsFolder+"/"+path)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), copied)
}

func TestDriverPagesPastFailingUploads(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	// an undecryptable file whose path sorts ahead of everything else
	badPath := f.study.ObjectID + "/q41aozrx/accelerometer/1700000000100.csv"
	wrongKey := pipelineStudy()
	wrongKey.EncryptionKey = bytes.Repeat([]byte("w"), 32)
	require.NoError(t, f.store.Put(ctx, badPath, []byte("timestamp,accuracy,x,y,z\n"), wrongKey, f.participant.ID))
	require.NoError(t, f.uploads.Enqueue(ctx, &domain.UploadRecord{
		ParticipantID: f.participant.ID,
		StudyID:       f.study.ID,
		Path:          badPath,
		OSType:        f.participant.OSType,
	}))
	f.enqueue(t, f.study.ObjectID+"/q41aozrx/gps/1700000000100.csv",
		[]byte("timestamp,latitude,longitude,altitude,accuracy\n1700000000100,1,2,3,4\n"))

	// a page size of one puts the failing file alone in the first page
	driver := NewDriver(f.uploads, f.chunks, f.surveys, f.summaries, f.store, zap.NewNop(), 1)
	require.NoError(t, driver.Process(ctx, f.study, f.participant))

	// the gps file behind it was still reached and retired; the bad
	// file stays in the inbox for the next cycle
	pending, err := f.uploads.CountPending(ctx, f.participant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	path := objectstore.ChunkPath(f.study.ObjectID, "q41aozrx", GPS, 1700000000100/TimesliceQuantumMS)
	_, err = f.chunks.GetByPath(ctx, path)
	require.NoError(t, err)
}

func TestDriverRetiresVanishedObject(t *testing.T) {
	ctx := context.Background()
	f := newDriverFixture(t)
	require.NoError(t, f.uploads.Enqueue(ctx, &domain.UploadRecord{
		ParticipantID: f.participant.ID,
		StudyID:       f.study.ID,
		Path:          f.study.ObjectID + "/q41aozrx/gps/1700000000100.csv",
		OSType:        f.participant.OSType,
	}))

	require.NoError(t, f.driver.Process(ctx, f.study, f.participant))

	pending, _ := f.uploads.CountPending(ctx, f.participant.ID)
	assert.Zero(t, pending)
}
