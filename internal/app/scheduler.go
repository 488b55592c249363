/**
 * @description
 * Cron scheduler for the tool-service housekeeping jobs: sweeping closed in-memory
 * rate-limit windows and pruning usage logs past the retention period. The credential
 * cache expires its own entries.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// UsageRetainer deletes usage logs older than a cutoff.
type UsageRetainer interface {
	PurgeUsageLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Jobs holds the housekeeping job implementations. Nil dependencies skip their job.
type Jobs struct {
	Windows   *MemoryWindowStore
	Usage     UsageRetainer
	Retention time.Duration
	Logger    *slog.Logger
	now       func() time.Time
}

func (j *Jobs) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

func (j *Jobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// SweepRateLimitWindows drops closed in-memory windows.
func (j *Jobs) SweepRateLimitWindows() {
	if j.Windows == nil {
		return
	}
	if removed := j.Windows.Sweep(j.clock()); removed > 0 {
		j.logger().Info("swept closed rate limit windows", "removed", removed)
	}
}

// PruneUsageLogs deletes usage logs older than the retention period.
func (j *Jobs) PruneUsageLogs() {
	if j.Usage == nil || j.Retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := j.clock().Add(-j.Retention)
	removed, err := j.Usage.PurgeUsageLogsBefore(ctx, cutoff)
	if err != nil {
		j.logger().Error("usage log retention failed", "error", err, "cutoff", cutoff)
		return
	}
	j.logger().Info("pruned usage logs", "removed", removed, "cutoff", cutoff)
}

// Schedules holds cron specs for each job. An empty spec leaves the job unscheduled.
type Schedules struct {
	WindowSweep    string
	UsageRetention string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns how many jobs were scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	for _, job := range []struct {
		name string
		spec string
		run  func()
	}{
		{"rate limit window sweep", s.schedules.WindowSweep, s.jobs.SweepRateLimitWindows},
		{"usage log retention", s.schedules.UsageRetention, s.jobs.PruneUsageLogs},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			s.logger.Error("failed to schedule "+job.name+" job", "error", err, "schedule", job.spec)
			continue
		}
		s.logger.Info("scheduled "+job.name+" job", "schedule", job.spec)
		scheduled++
	}

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
