package reconciler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/internal/cron"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
)

const (
	defaultPendingTxAge   = 10 * time.Minute
	defaultSweepBatchSize = 100
)

// SweepJobParams configure the stale-submission sweep.
type SweepJobParams struct {
	Logger     *logger.Logger
	Reconciler *Reconciler
	Repository certificates.Repository
	// PendingTxAge is how long a submission may stay pending before the
	// sweep re-queries its receipt.
	PendingTxAge time.Duration
	BatchSize    int
}

// NewSweepJob builds the cron job that resolves pending ledger transactions
// left behind by timeouts, crashes, and partial failures.
func NewSweepJob(params SweepJobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("certificates repository required")
	}
	age := params.PendingTxAge
	if age <= 0 {
		age = defaultPendingTxAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &sweepJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		repo:       params.Repository,
		age:        age,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type sweepJob struct {
	logg       *logger.Logger
	reconciler *Reconciler
	repo       certificates.Repository
	age        time.Duration
	batch      int
	now        func() time.Time
}

func (j *sweepJob) Name() string { return "ledger-tx-sweep" }

func (j *sweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	pending, err := j.repo.ListStalePendingTransactions(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var errs []error
	resolved := 0
	for _, pendingTx := range pending {
		if err := j.reconciler.ResolveTransaction(ctx, pendingTx); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"examined": len(pending),
		"resolved": resolved,
		"failed":   len(errs),
	})
	j.logg.Info(logCtx, "ledger transaction sweep complete")
	return multierr.Combine(errs...)
}
