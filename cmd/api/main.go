package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridia-labs/certledger-backend/api/routes"
	"github.com/veridia-labs/certledger-backend/internal/certificates"
	"github.com/veridia-labs/certledger-backend/pkg/config"
	"github.com/veridia-labs/certledger-backend/pkg/contentstore"
	"github.com/veridia-labs/certledger-backend/pkg/db"
	"github.com/veridia-labs/certledger-backend/pkg/ledger"
	"github.com/veridia-labs/certledger-backend/pkg/logger"
	"github.com/veridia-labs/certledger-backend/pkg/metrics"
	"github.com/veridia-labs/certledger-backend/pkg/migrate"
	"github.com/veridia-labs/certledger-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

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

	contentClient, err := contentstore.NewClient(cfg.ContentStore, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create content store gateway", err)
		os.Exit(1)
	}
	// A content store that is down at boot leaves the gateway in degraded
	// mode; issuance falls back to local digests.
	if err := contentClient.Init(context.Background()); err != nil {
		logg.Warn(context.Background(), "content store degraded at startup")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	certificateService, err := certificates.NewService(
		certificates.NewRepository(dbClient.DB()),
		dbClient,
		ledgerClient,
		contentClient,
		certificates.Options{
			CustodialAddress: cfg.Issuance.CustodialAddress,
			InstitutionName:  cfg.Issuance.InstitutionName,
		},
		logg,
		ledgerMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create certificate service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			ledgerClient,
			contentClient,
			certificateService,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
