package monitor

import (
	"context"
	"log/slog"
	"time"
)

const DefaultDispatchBatchSize = 100

type SchedulerConfig struct {
	Interval          time.Duration
	DispatchBatchSize int
	RunOnStart        bool
}

// Scheduler runs MonitorAll followed by a pending-alert sweep on a fixed
// interval. It shares state with manual triggers only through the store.
type Scheduler struct {
	orch       *Orchestrator
	dispatcher AlertDispatcher
	cfg        SchedulerConfig
	logger     *slog.Logger
}

func NewScheduler(orch *Orchestrator, d AlertDispatcher, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = DefaultDispatchBatchSize
	}
	return &Scheduler{
		orch:       orch,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is done. Cycle errors are logged; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "run_on_start", s.cfg.RunOnStart)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scan batch and one dispatch sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	batch, err := s.orch.MonitorAll(ctx)
	if err != nil {
		s.logger.Error("monitor batch failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}

	summary, err := s.dispatcher.DispatchPending(ctx, s.cfg.DispatchBatchSize)
	if err != nil {
		s.logger.Error("pending dispatch sweep failed", "error", err)
		return
	}

	s.logger.Info("monitor cycle complete",
		"success_count", batch.SuccessCount,
		"failure_count", batch.FailureCount,
		"dispatched", summary.Sent,
		"dispatch_failed", summary.Failed,
		"elapsed", time.Since(start),
	)
}
