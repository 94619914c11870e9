package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/omerc321/washapp-sub002/internal/dispatch"
	"github.com/omerc321/washapp-sub002/internal/shift"
)

type shiftSweeperStub struct {
	calls   int
	result  shift.SweepResult
	err     error
	hasDead bool
}

func (s *shiftSweeperStub) SweepStale(ctx context.Context) (shift.SweepResult, error) {
	s.calls++
	if _, ok := ctx.Deadline(); ok {
		s.hasDead = true
	}
	return s.result, s.err
}

type refundSweeperStub struct {
	calls  int
	result dispatch.RefundSweepResult
	err    error
}

func (s *refundSweeperStub) SweepExpiredPayments(ctx context.Context) (dispatch.RefundSweepResult, error) {
	s.calls++
	return s.result, s.err
}

func TestSweepStaleShifts_RunsWithDeadline(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	shifts := &shiftSweeperStub{result: shift.SweepResult{Evaluated: 2, Closed: 1, Repaired: 1}}
	jobs := NewJobs(shifts, &refundSweeperStub{}, logger, time.Second)

	jobs.SweepStaleShifts()

	if shifts.calls != 1 || !shifts.hasDead {
		t.Fatalf("expected one bounded sweep call, got calls=%d deadline=%v", shifts.calls, shifts.hasDead)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Data["closed"] != 1 {
		t.Fatalf("expected summary entry with closed=1, got %+v", entry)
	}
}

func TestSweepExpiredPayments_LogsFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	refunds := &refundSweeperStub{err: errors.New("db down")}
	jobs := NewJobs(&shiftSweeperStub{}, refunds, logger, 0)

	jobs.SweepExpiredPayments()

	if refunds.calls != 1 {
		t.Fatalf("expected one refund sweep, got %d", refunds.calls)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error entry, got %+v", entry)
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	jobs := NewJobs(&shiftSweeperStub{}, &refundSweeperStub{}, logger, time.Second)

	s := NewScheduler(jobs, logger, Schedules{ShiftSweep: "not a schedule", RefundSweep: "@every 60s"})
	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}

	s = NewScheduler(jobs, logger, Schedules{ShiftSweep: "@every 60s", RefundSweep: "@every 60s"})
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	<-s.Stop().Done()
}
