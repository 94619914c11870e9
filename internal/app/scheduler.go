/**
 * @description
 * Cron scheduler setup for the periodic sweeps.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Schedules holds the cron specs for each sweep.
type Schedules struct {
	ShiftSweep  string
	RefundSweep string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    logrus.FieldLogger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance. A sweep still running when
// its next tick fires is skipped rather than overlapped.
func NewScheduler(jobs *Jobs, logger *logrus.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(logger.WithField("component", "cron"))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger.WithField("component", "scheduler"),
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedules.ShiftSweep, s.jobs.SweepStaleShifts); err != nil {
		s.logger.WithError(err).Error("failed to schedule shift staleness sweep")
		return err
	}
	s.logger.WithField("schedule", s.schedules.ShiftSweep).Info("scheduled shift staleness sweep")

	if _, err := s.cron.AddFunc(s.schedules.RefundSweep, s.jobs.SweepExpiredPayments); err != nil {
		s.logger.WithError(err).Error("failed to schedule auto-refund sweep")
		return err
	}
	s.logger.WithField("schedule", s.schedules.RefundSweep).Info("scheduled auto-refund sweep")

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
