package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmtorres-dev/vpnpay-backend/internal/cron"
	"github.com/dmtorres-dev/vpnpay-backend/internal/subscriptions"
	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/metrics"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/migrate"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/redis"
)

const lockKeyFormat = "vpnpay:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	txnRepo, err := transactions.NewRepository(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions repository", err)
		os.Exit(1)
	}
	subsRepo, err := subscriptions.NewRepository(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions repository", err)
		os.Exit(1)
	}
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	subsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:    subsRepo,
		TxnRepo: txnRepo,
		Tx:      dbClient,
		Locker:  redisClient,
		Outbox:  outboxService,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewExpirySweepJob(cron.ExpirySweepJobParams{
		Logger:    logg,
		DB:        dbClient,
		TxnRepo:   txnRepo,
		Outbox:    outboxService,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry sweep job", err)
		os.Exit(1)
	}
	reconcileJob, err := cron.NewActivationReconcileJob(cron.ActivationReconcileJobParams{
		Logger:    logg,
		DB:        dbClient,
		TxnRepo:   txnRepo,
		Activator: subsService,
		Outbox:    outboxService,
		Grace:     cfg.Cron.ReconcileGrace,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activation reconcile job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, reconcileJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
