package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/ferrochem/erp/internal/app"
	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/observability"
	"github.com/ferrochem/erp/internal/platform/cache"
	"github.com/ferrochem/erp/internal/platform/db"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
	"github.com/ferrochem/erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledger := inventory.NewLedger(logger, metrics)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), ledger, shared.NewAuditLogger(pool), logger)

	notifyJob := &jobs.SaleStatusJob{
		Sender:     jobs.LogSender{Logger: logger},
		Directory:  jobs.NewCustomerDirectory(pool),
		AdminPhone: cfg.WhatsAppAdminPhone,
		Settings:   settings.NewCachedProvider(settings.NewRepository(pool), redisClient, cfg.SettingsCacheTTL, logger),
		Logger:     logger,
	}
	reconcileJob := jobs.NewReconcileJob(inventoryService, redislock.New(redisClient), logger)
	cleanupJob := &jobs.IdempotencyCleanupJob{Store: shared.NewIdempotencyStore(pool), Logger: logger}

	reconcileTask, err := jobs.NewReconcileTask("all")
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Queue(),
		Logger:      logger,
		NotifyQueue: cfg.NotifyQueue,
		Observer:    metrics,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSaleStatus, Handler: notifyJob.Handle},
			{Type: jobs.TaskInventoryReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask},
			{Spec: "30 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("notify_queue", cfg.NotifyQueue), slog.String("reconcile_cron", cfg.ReconcileCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
