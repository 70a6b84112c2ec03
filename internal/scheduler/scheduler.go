// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/afritokeni/afritokeni/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules config.CronConfig
}

// New creates a scheduler. Panics inside a job are recovered and logged.
func New(jobs *Jobs, logger *slog.Logger, schedules config.CronConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, logger: logger, schedules: schedules}
}

// Start registers the jobs and starts the cron scheduler. A job with an empty
// schedule or without its backend is skipped.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func()
		enabled  bool
	}{
		{"expire agent codes", s.schedules.ExpireCodes, s.jobs.ExpireCodes, s.jobs.Codes != nil},
		{"sweep memory stores", s.schedules.Sweep, s.jobs.Sweep, len(s.jobs.Sweepers) > 0},
		{"refresh rates", s.schedules.RefreshRates, s.jobs.RefreshRates, s.jobs.Rates != nil},
	}
	for _, job := range jobs {
		if job.schedule == "" || !job.enabled {
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		s.logger.Info("scheduled job", "job", job.name, "schedule", job.schedule)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
