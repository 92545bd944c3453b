package pipeline

import (
	"bytes"

	"skylark-data/internal/domain"
)

// Per-stream fixes that transform raw upload content into canonical
// csv shape before binification. All of these mutate the parsed rows
// and return the corrected header.

// FixAppLog rewrites the android log file, which is a time-enumerated
// event list rather than a csv: a throwaway first line, then
// "<millisecond timestamp> <message>" per line. Commas inside messages
// become semicolons so the result splits cleanly.
func FixAppLog(contents []byte) []byte {
	var out bytes.Buffer
	out.WriteString("timestamp,event")
	lines := bytes.Split(contents, []byte("\n"))
	if len(lines) > 0 {
		lines = lines[1:]
	}
	for _, line := range lines {
		line = bytes.TrimRight(line, " \r")
		if len(line) == 0 {
			continue
		}
		timestamp, message, found := bytes.Cut(line, []byte(" "))
		if !found {
			continue
		}
		out.WriteByte('\n')
		out.Write(timestamp)
		out.WriteByte(',')
		out.Write(bytes.ReplaceAll(message, []byte(","), []byte(";")))
	}
	return out.Bytes()
}

// FixCallLog moves the timestamp column to the front; old android call
// logs put it third.
func FixCallLog(header []byte, rows [][][]byte) []byte {
	columns := bytes.Split(header, []byte(","))
	tsIndex := -1
	for i, c := range columns {
		if bytes.Equal(bytes.TrimSpace(c), []byte("timestamp")) {
			tsIndex = i
			break
		}
	}
	if tsIndex <= 0 {
		return header
	}
	moveToFront(columns, tsIndex)
	for _, row := range rows {
		if len(row) > tsIndex {
			moveToFront(row, tsIndex)
		}
	}
	return bytes.Join(columns, []byte(","))
}

func moveToFront(cols [][]byte, i int) {
	col := cols[i]
	copy(cols[1:i+1], cols[:i])
	cols[0] = col
}

// FixWifi inserts the scan timestamp, which old android wifi logs only
// carry in the file name, as the first column of every row.
func FixWifi(header []byte, rows [][][]byte, path string) []byte {
	timestamp := filenameTimestamp(path)
	for i, row := range rows {
		if len(row) > 0 {
			rows[i] = append([][]byte{timestamp}, row...)
		}
	}
	return append([]byte("timestamp,"), header...)
}

// FixIdentifiers prepends the timestamp from the file name to the
// single identifiers row. Identifiers file names use an underscore
// separator instead of a slash.
func FixIdentifiers(header []byte, rows [][][]byte, path string) []byte {
	i := bytes.LastIndexByte([]byte(path), '_')
	var timestamp []byte
	if i >= 0 && len(path) > i+5 {
		timestamp = []byte(path[i+1 : len(path)-4])
	}
	if len(rows) > 0 {
		rows[0] = append([][]byte{timestamp}, rows[0]...)
	}
	return append([]byte("timestamp,"), header...)
}

// FixSurveyTimings inserts the survey id, carried in the file path,
// as the third column of header and rows.
func FixSurveyTimings(header []byte, rows [][][]byte, path string) []byte {
	surveyID := []byte(SurveyIDFromPath(path))
	for i, row := range rows {
		if len(row) >= 2 {
			rows[i] = append(row[:2:2], append([][]byte{surveyID}, row[2:]...)...)
		}
	}
	columns := bytes.Split(header, []byte(","))
	if len(columns) >= 2 {
		columns = append(columns[:2:2], append([][]byte{[]byte("survey id")}, columns[2:]...)...)
	}
	return bytes.Join(columns, []byte(","))
}

// filenameTimestamp extracts the epoch milliseconds embedded in an
// upload file name (the last path segment minus its extension).
func filenameTimestamp(path string) []byte {
	name := path
	if i := bytes.LastIndexByte([]byte(path), '/'); i >= 0 {
		name = path[i+1:]
	}
	if len(name) > 4 {
		name = name[:len(name)-4]
	}
	return []byte(name)
}

// PrepareCSV applies the stream's fixes in order and returns the
// cleaned header and parsed rows.
func PrepareCSV(stream, osType, path string, contents []byte) (header []byte, rows [][][]byte) {
	if osType == domain.AndroidAPI && stream == AppLog {
		contents = FixAppLog(contents)
	}

	header, rows = SplitCSV(contents)

	if osType == domain.AndroidAPI {
		switch stream {
		case CallLog:
			header = FixCallLog(header, rows)
		case Wifi:
			header = FixWifi(header, rows, path)
		}
	}
	switch stream {
	case Identifiers:
		header = FixIdentifiers(header, rows, path)
	case SurveyTimings:
		header = FixSurveyTimings(header, rows, path)
	}

	return CleanHeaderWhitespace(header), rows
}
