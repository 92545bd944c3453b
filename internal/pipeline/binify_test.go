package pipeline

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimecodeMS(t *testing.T) {
	now := time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)
	latest := LatestPossibleDataMS(now)

	ms, err := ParseTimecodeMS([]byte("1700000000000"), latest)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)

	// the earliest acceptable timestamp itself is in range
	ms, err = ParseTimecodeMS([]byte(strconv.FormatInt(EarliestPossibleDataMS, 10)), latest)
	require.NoError(t, err)
	assert.Equal(t, EarliestPossibleDataMS, ms)

	_, err = ParseTimecodeMS([]byte(strconv.FormatInt(EarliestPossibleDataMS-1, 10)), latest)
	assert.True(t, BadTimecode.Has(err))

	_, err = ParseTimecodeMS([]byte(strconv.FormatInt(latest+1, 10)), latest)
	assert.True(t, BadTimecode.Has(err))

	_, err = ParseTimecodeMS([]byte("not a number"), latest)
	assert.True(t, BadTimecode.Has(err))
}

func TestBinifyRows(t *testing.T) {
	latest := LatestPossibleDataMS(time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC))
	header := []byte("timestamp,latitude,longitude,altitude,accuracy")
	rows := [][][]byte{
		{[]byte("1699999999999"), []byte("1"), []byte("2"), []byte("3"), []byte("4")},
		// first millisecond of the next hour lands in the later bin
		{[]byte("1700002800000"), []byte("5"), []byte("6"), []byte("7"), []byte("8")},
		{[]byte("1700000000100"), []byte("9"), []byte("10"), []byte("11"), []byte("12")},
		{[]byte("garbage"), []byte("x")},
		{[]byte("100000"), []byte("clock reset")},
	}
	bins := BinifyRows("5873fe38644ad7557b168e43", "q41aozrx", GPS, header, rows, latest)
	require.Len(t, bins, 2)

	// 1699999999999 and 1700000000100 share an hour bin
	early := BinKey{
		StudyObjectID: "5873fe38644ad7557b168e43",
		PatientID:     "q41aozrx",
		DataStream:    GPS,
		TimeBin:       1699999999999 / TimesliceQuantumMS,
		Header:        string(header),
	}
	require.Contains(t, bins, early)
	assert.Len(t, bins[early], 2)

	later := early
	later.TimeBin = 1700002800000 / TimesliceQuantumMS
	require.Contains(t, bins, later)
	assert.Equal(t, "5", string(bins[later][0][1]))
	assert.NotEqual(t, early.TimeBin, later.TimeBin)
}

func TestAccumulatorAppendAndPop(t *testing.T) {
	acc := NewAccumulator()
	assert.True(t, acc.Empty())

	key := BinKey{StudyObjectID: "s", PatientID: "p", DataStream: GPS, TimeBin: 1, Header: "timestamp,x"}
	acc.Append(map[BinKey][][][]byte{key: {{[]byte("1"), []byte("a")}}}, 10)
	acc.Append(map[BinKey][][][]byte{key: {{[]byte("2"), []byte("b")}}}, 11)
	assert.False(t, acc.Empty())

	popped, entry, ok := acc.pop()
	require.True(t, ok)
	assert.Equal(t, key, popped)
	assert.Len(t, entry.rows, 2)
	assert.ElementsMatch(t, []int64{10, 11}, entry.uploadIDs)

	assert.True(t, acc.Empty())
	_, _, ok = acc.pop()
	assert.False(t, ok)
}

func TestAccumulatorSurveyIDs(t *testing.T) {
	acc := NewAccumulator()
	key := SurveyKey{StudyObjectID: "s", PatientID: "p", DataStream: SurveyTimings, Header: "timestamp,question id,survey id"}
	acc.RecordSurveyID(key, "abc123def456abc123def456")
	assert.Equal(t, "abc123def456abc123def456", acc.surveyIDs[key])
}
