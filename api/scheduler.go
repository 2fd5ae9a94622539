/*
scheduler.go - Scheduled reconciliation sweeps

PURPOSE:
  Runs the batch reconciler on a cron schedule so newly imported payments
  are matched without anyone pressing a button. The sweep picks up every
  payment without a terminal match result; already-reconciled payments
  short-circuit, so a sweep is always safe to rerun.

DESIGN:
  - robfig/cron with a configurable spec (default: nightly at 02:00)
  - At most one sweep at a time; an overlapping tick is skipped
  - Every sweep is recorded as a reconciliation run for audit

USAGE:
  sched := NewSweepScheduler(handler, "", log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: ReconcileBatch endpoint (manual sweeps)
  - reconcile/batch.go: The batch runner
*/
package api

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/tuition-engine/store/sqlite"
)

const defaultSweepSpec = "0 2 * * *"

// SweepScheduler runs scheduled reconciliation sweeps.
type SweepScheduler struct {
	Handler *Handler
	Spec    string
	Log     *logrus.Logger

	cron    *cron.Cron
	running atomic.Bool
}

// NewSweepScheduler creates a scheduler. An empty spec uses the nightly
// default.
func NewSweepScheduler(h *Handler, spec string, log *logrus.Logger) *SweepScheduler {
	if spec == "" {
		spec = defaultSweepSpec
	}
	if log == nil {
		log = logrus.New()
	}
	return &SweepScheduler{Handler: h, Spec: spec, Log: log}
}

// Start registers the cron entry and begins scheduling.
func (s *SweepScheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Spec, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.Log.WithField("spec", s.Spec).Info("reconciliation sweep scheduled")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("reconciliation sweep scheduler stopped")
}

// Sweep reconciles every unreconciled payment once. Safe to call manually;
// overlapping invocations are skipped.
func (s *SweepScheduler) Sweep() {
	if !s.running.CompareAndSwap(false, true) {
		s.Log.Warn("sweep already in progress, skipping")
		return
	}
	defer s.running.Store(false)

	ctx := context.Background()
	payments, err := s.Handler.Payments.ListUnreconciledPayments(ctx)
	if err != nil {
		s.Log.Errorf("sweep: failed to list payments: %v", err)
		return
	}
	if len(payments) == 0 {
		return
	}

	summary, err := s.Handler.Runner.Run(ctx, payments)
	if err != nil {
		s.Log.Errorf("sweep interrupted: %v", err)
		return
	}

	if s.Handler.Runs != nil {
		completed := summary.CompletedAt
		record := sqlite.RunRecord{
			ID:            summary.RunID,
			StartedAt:     summary.StartedAt,
			CompletedAt:   &completed,
			Processed:     summary.Processed,
			Reconciled:    summary.Reconciled,
			AutoAllocated: summary.AutoAllocated,
			Unmatched:     summary.Unmatched,
			Exceptions:    summary.Exceptions,
		}
		if err := s.Handler.Runs.SaveRun(ctx, record); err != nil {
			s.Log.Warnf("sweep: failed to record run %s: %v", summary.RunID, err)
		}
	}
}
