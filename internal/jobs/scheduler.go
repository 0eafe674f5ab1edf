// Package jobs runs the periodic housekeeping tasks of the bot.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionSweeper evicts idle sessions
type SessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// LimiterCleaner drops finished rate limit windows
type LimiterCleaner interface {
	Cleanup() int
}

// Config sets how often each job runs
type Config struct {
	SweepInterval   time.Duration
	CleanupInterval time.Duration
}

// Scheduler runs the session reaper and limiter cleanup on cron
type Scheduler struct {
	cron     *cron.Cron
	sessions SessionSweeper
	limiter  LimiterCleaner
	cfg      Config
	logger   *zap.Logger
}

// NewScheduler creates a scheduler; limiter may be nil
func NewScheduler(sessions SessionSweeper, limiter LimiterCleaner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Scheduler{
		cron:     cron.New(),
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Start registers the jobs and starts the cron runner
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(every(s.cfg.SweepInterval), s.SweepSessions); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	if s.limiter != nil {
		if _, err := s.cron.AddFunc(every(s.cfg.CleanupInterval), s.CleanupLimiter); err != nil {
			return fmt.Errorf("failed to schedule limiter cleanup: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("Background jobs started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval))
	return nil
}

// Stop stops the runner and waits up to timeout for running jobs
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("Background jobs stopped")
	case <-time.After(timeout):
		s.logger.Warn("Background jobs did not stop in time")
	}
}

// SweepSessions evicts idle sessions once
func (s *Scheduler) SweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := s.sessions.Sweep(ctx)
	if err != nil {
		s.logger.Error("Failed to sweep sessions", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Idle sessions evicted", zap.Int("removed", removed))
	}
}

// CleanupLimiter drops finished rate limit windows once
func (s *Scheduler) CleanupLimiter() {
	if s.limiter == nil {
		return
	}
	if removed := s.limiter.Cleanup(); removed > 0 {
		s.logger.Debug("Rate limit windows cleaned", zap.Int("removed", removed))
	}
}
