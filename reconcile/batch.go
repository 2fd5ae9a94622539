/*
batch.go - Parallel reconciliation of many payments

PURPOSE:
  Reconciliation of distinct payments is embarrassingly parallel: the
  only shared state is the read-only pricing configuration. The batch
  runner fans one task per payment over a bounded worker pool.

FAULT ISOLATION:
  A payment that fails inside the cascade is already recorded as an
  EXCEPTION_ERROR result by the service; a payment whose result cannot
  even be persisted is counted as an exception here and logged. Neither
  stops the other workers.

CANCELLATION:
  Cancelling the context stops scheduling new payments. In-flight results
  land at their last-committed status; the short-circuit makes the next
  run resume where this one stopped.
*/
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/tuition-engine/pricing"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// BATCH RUNNER
// =============================================================================

const defaultConcurrency = 8

type BatchRunner struct {
	Service     *Service
	Concurrency int
	Log         *logrus.Logger
}

func NewBatchRunner(service *Service, concurrency int, log *logrus.Logger) *BatchRunner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if log == nil {
		log = logrus.New()
	}
	return &BatchRunner{Service: service, Concurrency: concurrency, Log: log}
}

// BatchSummary tallies one run over a set of payments.
type BatchSummary struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time

	Processed     int
	Reconciled    int
	AutoAllocated int
	Unmatched     int
	Exceptions    int
}

// Run reconciles the given payments in parallel and returns the tally.
// The error is non-nil only when the context is cancelled; individual
// payment failures are counted, not propagated.
func (b *BatchRunner) Run(ctx context.Context, payments []pricing.Payment) (BatchSummary, error) {
	summary := BatchSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Concurrency)

	for _, payment := range payments {
		payment := payment
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, err := b.Service.ReconcilePayment(gctx, payment)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				// Could not even persist a result; count and move on.
				summary.Exceptions++
				b.Log.WithField("payment", payment.ID).Warnf("batch reconcile failed: %v", err)
				return nil
			}
			switch result.Status {
			case StatusFullyReconciled:
				summary.Reconciled++
			case StatusAutoAllocated:
				summary.AutoAllocated++
			case StatusExceptionError:
				summary.Exceptions++
			default:
				summary.Unmatched++
			}
			return nil
		})
	}

	err := g.Wait()
	summary.CompletedAt = time.Now().UTC()

	b.Log.WithFields(logrus.Fields{
		"run":            summary.RunID,
		"processed":      summary.Processed,
		"reconciled":     summary.Reconciled,
		"auto_allocated": summary.AutoAllocated,
		"unmatched":      summary.Unmatched,
		"exceptions":     summary.Exceptions,
	}).Info("batch reconciliation completed")

	return summary, err
}
