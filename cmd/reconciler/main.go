package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/internal/cron"
	"github.com/veridia-labs/certledger-backend/internal/reconciler"
	"github.com/veridia-labs/certledger-backend/pkg/config"
	"github.com/veridia-labs/certledger-backend/pkg/db"
	"github.com/veridia-labs/certledger-backend/pkg/instance"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/metrics"
	"github.com/veridia-labs/certledger-backend/pkg/redis"
)

// The reconciler worker runs the two recovery paths side by side: the event
// listener follows the contract's event stream, and the sweep job re-queries
// receipts for submissions stuck in pending.
func main() {
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerClient, err := ledger.NewClient(cfg.Ledger, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger gateway", err)
		os.Exit(1)
	}
	if err := ledgerClient.Init(context.Background()); err != nil {
		logg.Error(context.Background(), "failed to init ledger gateway", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	repo := certificates.NewRepository(dbClient.DB())
	rec, err := reconciler.New(repo, dbClient, ledgerClient, logg, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	listener, err := reconciler.NewListener(rec, ledgerClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create event listener", err)
		os.Exit(1)
	}

	sweepJob, err := reconciler.NewSweepJob(reconciler.SweepJobParams{
		Logger:       logg,
		Reconciler:   rec,
		Repository:   repo,
		PendingTxAge: cfg.Reconcile.PendingTxAge,
		BatchSize:    cfg.Reconcile.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("reconciler-sweep"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Reconcile.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting reconciler worker")

	errCh := make(chan error, 2)
	go func() {
		errCh <- listener.Run(ctx)
	}()
	go func() {
		errCh <- cronService.Run(ctx)
	}()

	err = <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconciler worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "reconciler worker stopped")
}
