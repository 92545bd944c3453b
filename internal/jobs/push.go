package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/notify"
	"skylark-data/internal/repository"
	"skylark-data/internal/schedule"
)

// ScheduleRefresher recomputes pending events for one study. Satisfied
// by schedule.Resolver.
type ScheduleRefresher interface {
	RefreshStudy(ctx context.Context, study *domain.Study) error
}

// NotificationDispatcher is the delivery surface. Satisfied by
// notify.Dispatcher.
type NotificationDispatcher interface {
	DispatchDue(ctx context.Context) error
	ProcessReports(ctx context.Context) error
	ResendStale(ctx context.Context) error
}

// HeartbeatRunner nudges silent participants. Satisfied by
// notify.Heartbeat.
type HeartbeatRunner interface {
	Run(ctx context.Context) error
}

var (
	_ ScheduleRefresher      = (*schedule.Resolver)(nil)
	_ NotificationDispatcher = (*notify.Dispatcher)(nil)
	_ HeartbeatRunner        = (*notify.Heartbeat)(nil)
)

// PushQueue runs the notification sequence for one cycle: fold in
// device receipts, resurrect stale sends, refresh pending events from
// schedules, deliver what is due, then heartbeats. Receipts land
// before the refresh so a confirmed event is never resent, and
// resurrection lands before dispatch so a resend goes out in the same
// cycle.
type PushQueue struct {
	studies    repository.StudiesRepository
	resolver   ScheduleRefresher
	dispatcher NotificationDispatcher
	heartbeat  HeartbeatRunner
	logger     *zap.Logger
}

func NewPushQueue(
	studies repository.StudiesRepository,
	resolver ScheduleRefresher,
	dispatcher NotificationDispatcher,
	heartbeat HeartbeatRunner,
	logger *zap.Logger,
) *PushQueue {
	return &PushQueue{
		studies:    studies,
		resolver:   resolver,
		dispatcher: dispatcher,
		heartbeat:  heartbeat,
		logger:     logger,
	}
}

// RunOnce executes the full sequence. Per-study refresh failures are
// logged and do not block delivery for the studies that did refresh.
func (q *PushQueue) RunOnce(ctx context.Context) error {
	if err := q.dispatcher.ProcessReports(ctx); err != nil {
		return err
	}
	if err := q.dispatcher.ResendStale(ctx); err != nil {
		return err
	}

	studies, err := q.studies.ListRunningStudies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running studies: %w", err)
	}
	for _, study := range studies {
		if err := q.resolver.RefreshStudy(ctx, study); err != nil {
			q.logger.Error("schedule refresh failed",
				zap.String("study", study.ObjectID), zap.Error(err))
		}
	}

	if err := q.dispatcher.DispatchDue(ctx); err != nil {
		return err
	}
	return q.heartbeat.Run(ctx)
}
