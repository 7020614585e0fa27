package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/darkvelocity/retailcore/infrastructure/logging"
)

// CleanupScheduler runs Service.CleanupExpired on the configured period,
// deferring its first run by initial and then following the recurring
// cron expression so the period can be tuned without code changes.
type CleanupScheduler struct {
	cron    *cron.Cron
	svc     *Service
	logger  *logging.Logger
	initial time.Duration
	timer   *time.Timer
}

// NewCleanupScheduler builds a scheduler that waits initial before its
// first cleanup run, then repeats on the given cron spec (e.g. "0 * * * *"
// for hourly).
func NewCleanupScheduler(svc *Service, spec string, initial time.Duration, logger *logging.Logger) (*CleanupScheduler, error) {
	c := cron.New()
	s := &CleanupScheduler{cron: c, svc: svc, logger: logger, initial: initial}
	_, err := c.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, fmt.Errorf("schedule idempotency cleanup %q: %w", spec, err)
	}
	return s, nil
}

func (s *CleanupScheduler) runOnce() {
	n, err := s.svc.CleanupExpired(context.Background())
	if err != nil {
		s.logger.WithField("component", "idempotency-cleanup").Warn(fmt.Sprintf("cleanup failed: %v", err))
		return
	}
	s.logger.WithField("component", "idempotency-cleanup").WithField("removed", n).Info("expired idempotency keys removed")
}

// Start schedules the deferred initial run and begins the recurring cron
// runs in a background goroutine.
func (s *CleanupScheduler) Start() {
	if s.initial > 0 {
		s.timer = time.AfterFunc(s.initial, s.runOnce)
	}
	s.cron.Start()
}

// Stop cancels the pending initial run (if it hasn't fired yet) and halts
// the cron scheduler, waiting for any in-flight run to finish.
func (s *CleanupScheduler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
	<-s.cron.Stop().Done()
}
