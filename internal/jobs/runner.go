package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultCycle = 6 * time.Minute

// expiryMargin is shaved off each cycle's deadline so a slow pass
// cannot overlap the next one.
const expiryMargin = 30 * time.Second

// Runner owns the cron loop. Both queues fire on the same cadence; a
// cycle still running when the next tick arrives is skipped rather than
// stacked.
type Runner struct {
	cron       *cron.Cron
	processing *ProcessingQueue
	push       *PushQueue
	interval   time.Duration
	logger     *zap.Logger
}

func NewRunner(processing *ProcessingQueue, push *PushQueue, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = defaultCycle
	}
	return &Runner{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		processing: processing,
		push:       push,
		interval:   interval,
		logger:     logger,
	}
}

func (r *Runner) Start() {
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		r.runCycle("data_processing", r.processing.RunOnce)
	}))
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		r.runCycle("push_notifications", r.push.RunOnce)
	}))
	r.cron.Start()
	r.logger.Info("job runner started", zap.Duration("interval", r.interval))
}

// Stop halts scheduling and waits for in-flight cycles to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("job runner stopped")
}

func (r *Runner) runCycle(queue string, run func(context.Context) error) {
	budget := r.interval - expiryMargin
	if budget <= 0 {
		budget = r.interval
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	started := time.Now()
	err := run(ctx)
	elapsed := time.Since(started)
	if err != nil {
		r.logger.Error("cycle failed",
			zap.String("queue", queue),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	if elapsed > budget/2 {
		// a watchdog signal before cycles start hitting the deadline
		r.logger.Warn("cycle ran long",
			zap.String("queue", queue),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", budget))
	}
}
