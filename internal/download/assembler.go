package download

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/repository"
)

// getConcurrency bounds parallel object store reads per download. Three
// saturates the network on a small instance without starving the rest
// of the process.
const getConcurrency = 3

// registryEntryName is the final archive entry carrying the path to
// hash map of everything included, which the client sends back on its
// next download to skip what it already has.
const registryEntryName = "registry"

// Assembler streams a zip archive of decrypted chunks matching a
// researcher query. The zip layer is store-only: chunk contents are
// plaintext csv and audio, and zip-level deflate would only burn CPU in
// the request path.
type Assembler struct {
	chunks       repository.ChunksRepository
	participants repository.ParticipantsRepository
	surveys      repository.SurveysRepository
	store        *objectstore.Store
	logger       *zap.Logger
}

func NewAssembler(
	chunks repository.ChunksRepository,
	participants repository.ParticipantsRepository,
	surveys repository.SurveysRepository,
	store *objectstore.Store,
	logger *zap.Logger,
) *Assembler {
	return &Assembler{
		chunks:       chunks,
		participants: participants,
		surveys:      surveys,
		store:        store,
		logger:       logger,
	}
}

type fetched struct {
	chunk *domain.Chunk
	data  []byte
}

// Stream validates the request, queries the registry and writes the
// archive to w as blobs arrive. Entry order follows retrieval
// completion, not query order. Any retrieval failure aborts the whole
// archive; a partial zip with silently missing files would be worse
// than a retry.
func (a *Assembler) Stream(ctx context.Context, study *domain.Study, req Request, w io.Writer) error {
	q, err := a.resolve(ctx, study, req)
	if err != nil {
		return err
	}

	namer, err := a.buildNamer(ctx, study)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	jobs := make(chan *domain.Chunk)
	results := make(chan fetched)

	// the cancel releases blocked producers and workers if zip writing
	// fails mid-stream
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(jobs)
		return a.chunks.Query(ctx, study.ID, q.filter, func(chunk *domain.Chunk) error {
			if q.excluded(chunk) {
				return nil
			}
			copied := *chunk
			select {
			case jobs <- &copied:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	var workers sync.WaitGroup
	for i := 0; i < getConcurrency; i++ {
		workers.Add(1)
		group.Go(func() error {
			defer workers.Done()
			for chunk := range jobs {
				data, err := a.store.Get(ctx, chunk.Path, study)
				if err != nil {
					return fmt.Errorf("failed to retrieve %s: %w", chunk.Path, err)
				}
				select {
				case results <- fetched{chunk: chunk, data: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	group.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	included := make(map[string]string)
	for f := range results {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     namer.name(f.chunk),
			Method:   zip.Store,
			Modified: f.chunk.TimeBin,
		})
		if err != nil {
			return err
		}
		if _, err := entry.Write(f.data); err != nil {
			return err
		}
		if req.IncludeRegistry {
			included[f.chunk.Path] = f.chunk.Hash
		}
		// entries can be megabytes; drop the reference before blocking
		// on the next retrieval
		f.data = nil
		if err := zw.Flush(); err != nil {
			return err
		}
	}

	if err := group.Wait(); err != nil {
		return err
	}

	if req.IncludeRegistry {
		body, err := json.Marshal(included)
		if err != nil {
			return err
		}
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: registryEntryName, Method: zip.Store})
		if err != nil {
			return err
		}
		if _, err := entry.Write(body); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (a *Assembler) buildNamer(ctx context.Context, study *domain.Study) (*namer, error) {
	participants, err := a.participants.ListByStudy(ctx, study.ID)
	if err != nil {
		return nil, err
	}
	patientIDs := make(map[int64]string, len(participants))
	for _, p := range participants {
		patientIDs[p.ID] = p.PatientID
	}

	surveys, err := a.surveys.ListByStudy(ctx, study.ID)
	if err != nil {
		return nil, err
	}
	surveyObjectIDs := make(map[int64]string, len(surveys))
	for _, s := range surveys {
		surveyObjectIDs[s.ID] = s.ObjectID
	}
	return newNamer(patientIDs, surveyObjectIDs), nil
}
