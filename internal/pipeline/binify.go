package pipeline

import (
	"time"

	"github.com/zeebo/errs"
)

// BadTimecode marks a row or filename timestamp that cannot be parsed
// or falls outside the sanity range. Rows are dropped silently;
// non-chunkable uploads are retired silently.
var BadTimecode = errs.Class("bad timecode")

// TimesliceQuantumMS is the bin width: one hour of milliseconds.
const TimesliceQuantumMS = int64(3_600_000)

// EarliestPossibleDataMS is midnight 2014-08-01 UTC, before any device
// existed. Device clock corruption regularly produces timestamps near
// the epoch; anything earlier than this is garbage.
const EarliestPossibleDataMS = int64(1406851200000)

// LatestPossibleDataMS bounds timestamps on the other side. Recomputed
// at the start of every processing run.
func LatestPossibleDataMS(now time.Time) int64 {
	return now.Add(90 * 24 * time.Hour).UnixMilli()
}

// ParseTimecodeMS validates a millisecond timestamp column against the
// sanity range.
func ParseTimecodeMS(raw []byte, latestMS int64) (int64, error) {
	ms, err := rowTimestamp([][]byte{raw})
	if err != nil {
		return 0, BadTimecode.Wrap(err)
	}
	if ms < EarliestPossibleDataMS {
		return 0, BadTimecode.New("data too early")
	}
	if ms > latestMS {
		return 0, BadTimecode.New("data too late")
	}
	return ms, nil
}

// BinKey addresses one hour bin of one stream for one participant. The
// header participates so rows with drifting headers stay separate until
// the merge step reconciles them against the canonical header.
type BinKey struct {
	StudyObjectID string
	PatientID     string
	DataStream    string
	TimeBin       int64
	Header        string
}

// SurveyKey addresses the side map carrying survey object ids, which
// survey data uploads store in their file path rather than their rows.
type SurveyKey struct {
	StudyObjectID string
	PatientID     string
	DataStream    string
	Header        string
}

type binEntry struct {
	rows      [][][]byte
	uploadIDs []int64
}

// Accumulator collects binified rows across the files of one page.
type Accumulator struct {
	bins      map[BinKey]*binEntry
	surveyIDs map[SurveyKey]string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		bins:      make(map[BinKey]*binEntry),
		surveyIDs: make(map[SurveyKey]string),
	}
}

// BinifyRows assigns each row to its hour bin by the leading timestamp
// column. Rows with out-of-range or unparsable timestamps are dropped.
// Returns the per-file bins so the caller can attribute the upload id.
func BinifyRows(studyObjectID, patientID, stream string, header []byte, rows [][][]byte, latestMS int64) map[BinKey][][][]byte {
	out := make(map[BinKey][][][]byte)
	for _, row := range rows {
		if len(row) == 0 || len(row[0]) == 0 {
			continue
		}
		ms, err := ParseTimecodeMS(row[0], latestMS)
		if err != nil {
			continue
		}
		key := BinKey{
			StudyObjectID: studyObjectID,
			PatientID:     patientID,
			DataStream:    stream,
			TimeBin:       ms / TimesliceQuantumMS,
			Header:        string(header),
		}
		out[key] = append(out[key], row)
	}
	return out
}

// Append merges one file's bins into the accumulator, attributing every
// touched bin to the upload id.
func (a *Accumulator) Append(fileBins map[BinKey][][][]byte, uploadID int64) {
	for key, rows := range fileBins {
		entry := a.bins[key]
		if entry == nil {
			entry = &binEntry{}
			a.bins[key] = entry
		}
		entry.rows = append(entry.rows, rows...)
		entry.uploadIDs = append(entry.uploadIDs, uploadID)
	}
}

// RecordSurveyID notes the survey object id for a survey data file.
func (a *Accumulator) RecordSurveyID(key SurveyKey, surveyObjectID string) {
	a.surveyIDs[key] = surveyObjectID
}

// Empty reports whether any bins were accumulated.
func (a *Accumulator) Empty() bool {
	return len(a.bins) == 0
}

// pop removes and returns an arbitrary bin, freeing its memory as the
// merge loop walks the map.
func (a *Accumulator) pop() (BinKey, *binEntry, bool) {
	for key, entry := range a.bins {
		delete(a.bins, key)
		return key, entry, true
	}
	return BinKey{}, nil, false
}
