// Package scheduler runs a job repeatedly on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kebairia/cloudbackup/internal/logger"
)

// Job is one scheduled run. A non-nil error schedules the next run after the
// retry delay instead of the regular schedule.
type Job func(ctx context.Context) error

// Scheduler runs a Job at the times given by a cron schedule. Runs never
// overlap.
type Scheduler struct {
	schedule   cron.Schedule
	retryAfter time.Duration
	job        Job
	log        logger.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New parses spec, either a standard five-field cron expression or a
// descriptor such as "@every 6h" or "@daily".
func New(spec string, retryAfter time.Duration, job Job, log logger.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		schedule:   schedule,
		retryAfter: retryAfter,
		job:        job,
		log:        log,
		now:        time.Now,
		after:      time.After,
	}, nil
}

// Run executes the job right away and then on schedule until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.job(ctx)
		if err != nil {
			s.log.Error("scheduled run failed", "error", err.Error())
		}
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return nil
		}

		wait := s.nextDelay(err)
		s.log.Info("next run scheduled", "at", s.now().Add(wait).Format(time.DateTime), "in", wait.String())

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.after(wait):
		}
	}
}

// nextDelay is the time to wait before the next run. A failed run is retried
// after retryAfter unless the schedule comes sooner.
func (s *Scheduler) nextDelay(runErr error) time.Duration {
	now := s.now()
	wait := s.schedule.Next(now).Sub(now)
	if runErr != nil && s.retryAfter > 0 && s.retryAfter < wait {
		wait = s.retryAfter
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}
