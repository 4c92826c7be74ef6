package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmtorres-dev/vpnpay-backend/api/routes"
	"github.com/dmtorres-dev/vpnpay-backend/internal/fraud"
	"github.com/dmtorres-dev/vpnpay-backend/internal/payments"
	"github.com/dmtorres-dev/vpnpay-backend/internal/providers"
	"github.com/dmtorres-dev/vpnpay-backend/internal/refunds"
	"github.com/dmtorres-dev/vpnpay-backend/internal/retry"
	"github.com/dmtorres-dev/vpnpay-backend/internal/subscriptions"
	"github.com/dmtorres-dev/vpnpay-backend/internal/transactions"
	"github.com/dmtorres-dev/vpnpay-backend/internal/webhooks"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/db"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/logger"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/metrics"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/migrate"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/outbox"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/redis"
)

const webhookGuardScope = "webhook"

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

	cardAdapter, err := providers.NewCardAdapter(cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create card adapter", err)
		os.Exit(1)
	}
	walletAdapter, err := providers.NewWalletAdapter(cfg.Wallet)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet adapter", err)
		os.Exit(1)
	}
	hostedAdapter, err := providers.NewHostedAdapter(cfg.Hosted)
	if err != nil {
		logg.Error(context.Background(), "failed to create hosted adapter", err)
		os.Exit(1)
	}
	cryptoAdapter, err := providers.NewCryptoAdapter(cfg.Crypto)
	if err != nil {
		logg.Error(context.Background(), "failed to create crypto adapter", err)
		os.Exit(1)
	}
	registry := providers.NewRegistry(cardAdapter, walletAdapter, hostedAdapter, cryptoAdapter)

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
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

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

	retryQueue, err := retry.NewQueue(retry.QueueParams{
		TxnRepo: txnRepo,
		Claims:  redisClient,
		Tx:      dbClient,
		Outbox:  outboxService,
		Logger:  logg,
		Metrics: paymentMetrics,
		Cfg:     cfg.Retry,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retry queue", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Registry:  registry,
		Detector:  fraud.NewDetector(cfg.Fraud),
		History:   fraud.NewHistory(dbClient.DB()),
		TxnRepo:   txnRepo,
		Plans:     subsRepo,
		Activator: subsService,
		Retry:     retryQueue,
		Tx:        dbClient,
		Outbox:    outboxService,
		Logger:    logg,
		Metrics:   paymentMetrics,
		FraudCfg:  cfg.Fraud,
		PayCfg:    cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	retryQueue.SetDispatcher(paymentsService)

	webhookGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, webhookGuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := webhooks.NewService(webhooks.ServiceParams{
		Registry:  registry,
		TxnRepo:   txnRepo,
		Activator: subsService,
		Guard:     webhookGuard,
		Security:  webhooks.NewSecurityRecorder(dbClient.DB()),
		Tx:        dbClient,
		Outbox:    outboxService,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(refunds.ServiceParams{
		Registry: registry,
		TxnRepo:  txnRepo,
		Revoker:  subsService,
		Tx:       dbClient,
		Outbox:   outboxService,
		Logger:   logg,
		Metrics:  paymentMetrics,
		Cfg:      cfg.Refunds,
		PayCfg:   cfg.Payments,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The retry queue lives in-process; shutting down drains in-flight attempts.
	retryQueue.Start(ctx)
	defer retryQueue.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, paymentsService, txnRepo, subsRepo, refundsService, webhookService),
	}

	// ListenAndServe returns as soon as Shutdown is called, while handlers may
	// still be draining. Wait for Shutdown to finish before stopping the retry
	// queue so in-flight requests can still enqueue.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			logg.Error(ctx, "error shutting down server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	<-shutdownDone

	logg.Info(ctx, "api server shutting down gracefully")
}
