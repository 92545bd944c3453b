package pipeline

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// The pipeline treats csv content as raw byte splitting on commas and
// newlines. The specified streams never contain embedded commas or
// quotes, and the volumes involved rule out a general csv parser.

// SplitCSV breaks file content into a header and rows of columns.
// Trailing whitespace is stripped per line. A single-line file yields
// the header and no rows.
func SplitCSV(contents []byte) (header []byte, rows [][][]byte) {
	if !bytes.ContainsRune(contents, '\n') {
		return bytes.TrimRight(contents, " \r"), nil
	}
	lines := bytes.Split(contents, []byte("\n"))
	header = bytes.TrimRight(lines[0], " \r")
	rows = make([][][]byte, 0, len(lines)-1)
	for _, line := range lines[1:] {
		line = bytes.TrimRight(line, " \r")
		if len(line) == 0 {
			continue
		}
		rows = append(rows, bytes.Split(line, []byte(",")))
	}
	return header, rows
}

// rowTimestamp parses a row's leading timestamp column.
func rowTimestamp(row [][]byte) (int64, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("empty row")
	}
	return strconv.ParseInt(string(row[0]), 10, 64)
}

// SortByTimestamp sorts rows ascending by their timestamp column,
// purging rows whose timestamp does not parse. Purging is exceedingly
// uncommon, so parse failures are detected lazily.
func SortByTimestamp(rows [][][]byte) [][][]byte {
	kept := rows[:0]
	for _, row := range rows {
		if _, err := rowTimestamp(row); err == nil {
			kept = append(kept, row)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, _ := rowTimestamp(kept[i])
		b, _ := rowTimestamp(kept[j])
		return a < b
	})
	return kept
}

const humanTimeLayout = "2006-01-02T15:04:05"

// humanTimestamp renders a millisecond timestamp the way researchers
// read it, millisecond precision, no timezone suffix.
func humanTimestamp(ms int64) []byte {
	s := time.UnixMilli(ms).UTC().Format(humanTimeLayout)
	return []byte(fmt.Sprintf("%s.%03d", s, ms%1000))
}

// InsertUTCTimeColumn adds the human readable "UTC time" column at
// index 1 of the header and every row, derived from each row's
// millisecond timestamp. Rows with unparsable timestamps get an empty
// value; the sort step purges them later.
func InsertUTCTimeColumn(header []byte, rows [][][]byte) []byte {
	for i, row := range rows {
		var value []byte
		if ms, err := rowTimestamp(row); err == nil {
			value = humanTimestamp(ms)
		}
		rows[i] = append(row[:1:1], append([][]byte{value}, row[1:]...)...)
	}
	columns := bytes.Split(header, []byte(","))
	columns = append(columns[:1:1], append([][]byte{[]byte("UTC time")}, columns[1:]...)...)
	return bytes.Join(columns, []byte(","))
}

// ConstructCSV joins header and rows back into file bytes, removing
// full-row duplicates while preserving the first occurrence.
func ConstructCSV(header []byte, rows [][][]byte) []byte {
	joined := make([][]byte, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		line := bytes.Join(row, []byte(","))
		if _, dup := seen[string(line)]; dup {
			continue
		}
		seen[string(line)] = struct{}{}
		joined = append(joined, line)
	}
	out := make([]byte, 0, len(header)+1)
	out = append(out, header...)
	out = append(out, '\n')
	return append(out, bytes.Join(joined, []byte("\n"))...)
}

// CleanHeaderWhitespace strips stray whitespace from each column name.
func CleanHeaderWhitespace(header []byte) []byte {
	columns := bytes.Split(header, []byte(","))
	for i, c := range columns {
		columns[i] = bytes.TrimSpace(c)
	}
	return bytes.Join(columns, []byte(","))
}
