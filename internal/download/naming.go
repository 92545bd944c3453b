package download

import (
	"fmt"
	"strings"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/pipeline"
)

const unknownSurveyID = "unknown_survey_id"

// namer computes in-archive file names and disambiguates collisions in
// encounter order.
type namer struct {
	patientIDs      map[int64]string  // participant id -> patient id
	surveyObjectIDs map[int64]string  // survey id -> survey object id
	used            map[string]struct{}
}

func newNamer(patientIDs map[int64]string, surveyObjectIDs map[int64]string) *namer {
	return &namer{
		patientIDs:      patientIDs,
		surveyObjectIDs: surveyObjectIDs,
		used:            make(map[string]struct{}),
	}
}

// name returns the archive entry name for the chunk, unique within
// this archive. Collisions get "(2)", "(3)" inserted before the
// extension.
func (n *namer) name(chunk *domain.Chunk) string {
	name := n.baseName(chunk)
	if _, taken := n.used[name]; taken {
		base, ext := splitExtension(name)
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s(%d)%s", base, i, ext)
			if _, taken := n.used[candidate]; !taken {
				name = candidate
				break
			}
		}
	}
	n.used[name] = struct{}{}
	return name
}

func (n *namer) baseName(chunk *domain.Chunk) string {
	patientID := n.patientIDs[chunk.ParticipantID]
	timeBin := objectstore.ISOHour(chunk.TimeBin)

	switch chunk.DataStream {
	case pipeline.SurveyAnswers:
		// answers are not merged into hour bins and ios multi-upload
		// bugs have produced corrupted names, so the survey id comes
		// from the storage path
		return fmt.Sprintf("%s/%s/%s/%s.csv",
			patientID, chunk.DataStream, surveyIDFromChunkPath(chunk.Path), timeBin)

	case pipeline.SurveyTimings:
		return fmt.Sprintf("%s/%s/%s/%s.csv",
			patientID, chunk.DataStream, n.surveyID(chunk), timeBin)

	case pipeline.AudioRecording:
		// old app versions recorded audio without the survey id path
		// segment; those fall through to the plain form
		if strings.Count(chunk.Path, "/") == 4 {
			return fmt.Sprintf("%s/%s/%s/%s.%s",
				patientID, chunk.DataStream, n.surveyID(chunk), timeBin, audioExtension(chunk.Path))
		}
	}

	return fmt.Sprintf("%s/%s/%s.%s", patientID, chunk.DataStream, timeBin, pathExtension(chunk.Path))
}

// surveyID prefers the registry's survey foreign key and falls back to
// the storage path.
func (n *namer) surveyID(chunk *domain.Chunk) string {
	if chunk.SurveyID.Valid {
		if objectID, ok := n.surveyObjectIDs[chunk.SurveyID.Int64]; ok {
			return objectID
		}
	}
	return surveyIDFromChunkPath(chunk.Path)
}

func surveyIDFromChunkPath(path string) string {
	surveyID := pipeline.SurveyIDFromPath(path)
	if len(surveyID) != 24 {
		return unknownSurveyID
	}
	return surveyID
}

// pathExtension is the last three characters of the storage path. Some
// paths carry longer junk extensions from app crashes, three keeps the
// usual csv/mp4/wav/txt cases intact.
func pathExtension(path string) string {
	if len(path) < 3 {
		return path
	}
	return path[len(path)-3:]
}

func audioExtension(path string) string {
	switch {
	case strings.Contains(path, ".mp4"):
		return "mp4"
	case strings.Contains(path, ".wav"):
		return "wav"
	default:
		return pathExtension(path)
	}
}

func splitExtension(name string) (base, ext string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i:]
	}
	return name, ""
}
