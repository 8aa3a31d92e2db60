package usecase

import (
	"context"
	"log/slog"
	"time"

	"PositionScanner/internal/ports"
)

// Scheduler wires the cron-like driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	sources  func() []SourceBinding
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs over the sources
// returned by sources at trigger time.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, sources func() []SourceBinding, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, sources: sources, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil || s.sources == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled run", "trigger", trigger.Format(time.RFC3339))
		reports, err := s.pipeline.ProcessAll(ctx, s.sources())
		if err != nil {
			s.logger.Error("scheduled run finished with errors", "error", err)
		}
		var total Report
		for _, r := range reports {
			total.Add(r.Report)
		}
		s.logger.Info("scheduled run done", "sources", len(reports), "sent", total.Sent,
			"failed", total.Failed, "committed", total.Committed)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
