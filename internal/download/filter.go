package download

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"skylark-data/internal/domain"
	"skylark-data/internal/pipeline"
	"skylark-data/internal/repository"
)

// Error classes the HTTP layer maps to status codes.
var (
	BadRequest = errs.Class("bad request")
	NotFound   = errs.Class("not found")
)

// APITimeLayout is the wire format for time_start and time_end.
const APITimeLayout = "2006-01-02T15:04:05"

// Request is a researcher's bulk data query, field values still in
// wire form. Empty slices and strings mean "no constraint".
type Request struct {
	DataStreams []string
	PatientIDs  []string
	TimeStart   string
	TimeEnd     string

	// Registry is the raw JSON text of a prior registry file, mapping
	// chunk path to hash. Chunks whose current hash still matches are
	// skipped since the client already has them.
	Registry        string
	IncludeRegistry bool
}

// query is a Request resolved against the database: validated streams,
// patient ids mapped to participant rows, parsed times and registry.
type query struct {
	filter   repository.ChunksFilter
	registry map[string]string
}

func (a *Assembler) resolve(ctx context.Context, study *domain.Study, req Request) (*query, error) {
	q := &query{}

	for _, stream := range req.DataStreams {
		if !pipeline.IsDataStream(stream) {
			return nil, NotFound.New("unknown data stream %q", stream)
		}
	}
	q.filter.DataStreams = req.DataStreams

	for _, patientID := range req.PatientIDs {
		participant, err := a.participants.GetParticipantByPatientID(ctx, study.ID, patientID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, NotFound.New("unknown participant %q", patientID)
			}
			return nil, err
		}
		q.filter.ParticipantIDs = append(q.filter.ParticipantIDs, participant.ID)
	}

	var err error
	if q.filter.TimeStart, err = parseAPITime(req.TimeStart); err != nil {
		return nil, err
	}
	if q.filter.TimeEnd, err = parseAPITime(req.TimeEnd); err != nil {
		return nil, err
	}

	if req.Registry != "" {
		if q.registry, err = parseRegistry(req.Registry); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func parseAPITime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(APITimeLayout, raw)
	if err != nil {
		return nil, BadRequest.New("time %q is not in %s form", raw, APITimeLayout)
	}
	t = t.UTC()
	return &t, nil
}

// parseRegistry accepts the client's registry file: a JSON object
// mapping chunk path to hash. Non-string hash values mean the entry
// can never match, which is harmless, but a non-object is a client
// error.
func parseRegistry(raw string) (map[string]string, error) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, BadRequest.New("registry is not a JSON object")
	}
	registry := make(map[string]string, len(generic))
	for path, hash := range generic {
		if s, ok := hash.(string); ok {
			registry[path] = s
		}
	}
	return registry, nil
}

// excluded reports whether the client already holds the chunk: both
// path and current hash must match its registry entry. A stale hash
// means the chunk changed since their download and is sent again.
func (q *query) excluded(chunk *domain.Chunk) bool {
	hash, ok := q.registry[chunk.Path]
	return ok && hash == chunk.Hash
}
