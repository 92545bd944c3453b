package objectstore

import (
	"fmt"
	"strings"
	"time"
)

// Reserved top-level folders. Every key in the bucket lives under one
// of these or under a study object id.
const (
	ChunksFolder               = "CHUNKED_DATA"
	ProblemUploadsFolder       = "PROBLEM_UPLOADS"
	CustomOndeployScriptFolder = "CUSTOM_ONDEPLOY_SCRIPT"
	LogsFolder                 = "LOGS"
)

// CompressedSuffix is appended to every encrypted object key; callers
// never pass it in.
const CompressedSuffix = ".zst"

const objectIDLength = 24

// looksLikeObjectID reports whether s has the shape of a study object
// id (24 ascii alphanumerics).
func looksLikeObjectID(s string) bool {
	if len(s) != objectIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// ValidateEncryptedPath enforces the path conventions for encrypted
// writes. The compressed suffix is added internally, so a caller path
// already carrying it is a bug.
func ValidateEncryptedPath(path string) error {
	if path == "" {
		return BadPath.New("empty path")
	}
	if strings.HasSuffix(path, CompressedSuffix) {
		return BadPath.New("path must not end with %q: %s", CompressedSuffix, path)
	}
	folder := path
	if i := strings.IndexByte(path, '/'); i >= 0 {
		folder = path[:i]
	}
	switch folder {
	case ProblemUploadsFolder, CustomOndeployScriptFolder:
		return BadPath.New("files under %s do not use encrypted storage: %s", folder, path)
	case ChunksFolder, LogsFolder:
		return nil
	}
	if !looksLikeObjectID(folder) {
		return BadPath.New("unrecognized base folder %q in path %s", folder, path)
	}
	return nil
}

// isoHourFormat renders hour-aligned UTC instants for chunk file names;
// colons are replaced with underscores so the name is safe on every
// filesystem a researcher might extract an archive onto.
const isoHourLayout = "2006-01-02T15:04:05+00:00"

// ISOHour formats a UTC instant for use in a chunk path.
func ISOHour(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(isoHourLayout), ":", "_")
}

// TimeBinHour converts an hour index (hours since the unix epoch) to
// its UTC instant.
func TimeBinHour(bin int64) time.Time {
	return time.Unix(bin*3600, 0).UTC()
}

// ChunkPath builds the deterministic registry path for a time bin:
// CHUNKED_DATA/<study>/<patient>/<stream>/<ISO-hour>.csv
// The stored blob carries the compressed suffix on top of this.
func ChunkPath(studyObjectID, patientID, dataStream string, bin int64) string {
	return fmt.Sprintf(
		"%s/%s/%s/%s/%s.csv",
		ChunksFolder, studyObjectID, patientID, dataStream, ISOHour(TimeBinHour(bin)),
	)
}

// KeyPairPaths returns the storage paths of a participant's RSA keypair.
func KeyPairPaths(studyObjectID, patientID string) (public, private string) {
	return studyObjectID + "/keys/" + patientID + "_public",
		studyObjectID + "/keys/" + patientID + "_private"
}
