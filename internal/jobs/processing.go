package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skylark-data/internal/domain"
	"skylark-data/internal/pipeline"
	"skylark-data/internal/repository"
	"skylark-data/internal/store"
)

// Redis set holding participant ids currently being merged. Membership
// is checked at enqueue time so two cycles never process the same
// participant concurrently.
const inflightKey = "skylark:inflight:data_processing"

// Merger runs one merge pass for a participant. Satisfied by
// pipeline.Driver.
type Merger interface {
	Process(ctx context.Context, study *domain.Study, participant *domain.Participant) error
}

var _ Merger = (*pipeline.Driver)(nil)

// ProcessingQueue runs one merge pass per participant with pending
// uploads, bounded by a worker pool.
type ProcessingQueue struct {
	uploads      repository.UploadsRepository
	participants repository.ParticipantsRepository
	studies      repository.StudiesRepository
	driver       Merger
	kv           store.KV
	workers      int
	logger       *zap.Logger
}

func NewProcessingQueue(
	uploads repository.UploadsRepository,
	participants repository.ParticipantsRepository,
	studies repository.StudiesRepository,
	driver Merger,
	kv store.KV,
	workers int,
	logger *zap.Logger,
) *ProcessingQueue {
	if workers <= 0 {
		workers = 4
	}
	return &ProcessingQueue{
		uploads:      uploads,
		participants: participants,
		studies:      studies,
		driver:       driver,
		kv:           kv,
		workers:      workers,
		logger:       logger,
	}
}

// RunOnce drains the current backlog. Participants already claimed by a
// previous still-running cycle are skipped, not queued twice.
func (q *ProcessingQueue) RunOnce(ctx context.Context) error {
	ids, err := q.uploads.ParticipantsWithPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list participants with pending uploads: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(q.workers)
	queued := 0
	for _, id := range ids {
		id := id
		member := strconv.FormatInt(id, 10)
		claimed, err := q.kv.SetAdd(ctx, inflightKey, member)
		if err != nil {
			q.logger.Error("failed to claim participant for processing",
				zap.Int64("participant_id", id), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		queued++
		group.Go(func() error {
			defer func() {
				if err := q.kv.SetRemove(context.Background(), inflightKey, member); err != nil {
					q.logger.Error("failed to release in-flight claim",
						zap.Int64("participant_id", id), zap.Error(err))
				}
			}()
			if err := q.processParticipant(ctx, id); err != nil {
				q.logger.Error("merge pass failed",
					zap.Int64("participant_id", id), zap.Error(err))
			}
			return nil
		})
	}
	err = group.Wait()
	q.logger.Info("processing cycle finished",
		zap.Int("pending_participants", len(ids)),
		zap.Int("queued", queued))
	return err
}

func (q *ProcessingQueue) processParticipant(ctx context.Context, participantID int64) error {
	participant, err := q.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}
	study, err := q.studies.GetStudy(ctx, participant.StudyID)
	if err != nil {
		return fmt.Errorf("failed to load study: %w", err)
	}
	if study.Stopped(time.Now()) {
		return nil
	}
	return q.driver.Process(ctx, study, participant)
}
