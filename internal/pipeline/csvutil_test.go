package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCSV(t *testing.T) {
	header, rows := SplitCSV([]byte("timestamp,x,y\n1,2,3\n4,5,6 \r\n"))
	assert.Equal(t, "timestamp,x,y", string(header))
	require.Len(t, rows, 2)
	assert.Equal(t, "4", string(rows[1][0]))
	assert.Equal(t, "6", string(rows[1][2]))
}

func TestSplitCSV_SingleLine(t *testing.T) {
	header, rows := SplitCSV([]byte("timestamp,x,y"))
	assert.Equal(t, "timestamp,x,y", string(header))
	assert.Empty(t, rows)
}

func TestSortByTimestamp_PurgesBadRows(t *testing.T) {
	rows := [][][]byte{
		{[]byte("300"), []byte("c")},
		{[]byte("not-a-number"), []byte("x")},
		{[]byte("100"), []byte("a")},
		{[]byte("200"), []byte("b")},
	}
	sorted := SortByTimestamp(rows)
	require.Len(t, sorted, 3)
	assert.Equal(t, "100", string(sorted[0][0]))
	assert.Equal(t, "200", string(sorted[1][0]))
	assert.Equal(t, "300", string(sorted[2][0]))
}

func TestInsertUTCTimeColumn(t *testing.T) {
	rows := [][][]byte{{[]byte("1700000000007"), []byte("1.5")}}
	header := InsertUTCTimeColumn([]byte("timestamp,x"), rows)

	assert.Equal(t, "timestamp,UTC time,x", string(header))
	require.Len(t, rows[0], 3)
	// 1700000000007 ms = 2023-11-14T22:13:20.007 UTC
	assert.Equal(t, "2023-11-14T22:13:20.007", string(rows[0][1]))
	assert.Equal(t, "1.5", string(rows[0][2]))
}

func TestConstructCSV_DeduplicatesPreservingFirst(t *testing.T) {
	rows := [][][]byte{
		{[]byte("1"), []byte("a")},
		{[]byte("2"), []byte("b")},
		{[]byte("1"), []byte("a")},
	}
	out := ConstructCSV([]byte("timestamp,v"), rows)
	assert.Equal(t, "timestamp,v\n1,a\n2,b", string(out))
}

func TestConstructCSV_Deterministic(t *testing.T) {
	// merging zero new rows must reproduce identical bytes
	rows := [][][]byte{
		{[]byte("2"), []byte("b")},
		{[]byte("1"), []byte("a")},
	}
	first := ConstructCSV([]byte("timestamp,v"), SortByTimestamp(rows))

	header, parsed := SplitCSV(first)
	second := ConstructCSV(header, SortByTimestamp(parsed))
	assert.Equal(t, first, second)
}

func TestCleanHeaderWhitespace(t *testing.T) {
	out := CleanHeaderWhitespace([]byte("timestamp, hashed MAC ,RSSI"))
	assert.Equal(t, "timestamp,hashed MAC,RSSI", string(out))
}
