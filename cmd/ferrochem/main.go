package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ferrochem/erp/internal/app"
	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/observability"
	"github.com/ferrochem/erp/internal/platform/cache"
	"github.com/ferrochem/erp/internal/platform/db"
	"github.com/ferrochem/erp/internal/procurement"
	"github.com/ferrochem/erp/internal/sales"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
	"github.com/ferrochem/erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotency := shared.NewIdempotencyStore(dbpool)
	settingsProvider := settings.NewCachedProvider(settings.NewRepository(dbpool), redisClient, cfg.SettingsCacheTTL, logger)

	redisOpts := cfg.Redis().Queue()
	jobClient := jobs.NewClient(redisOpts, cfg.NotifyQueue)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	ledger := inventory.NewLedger(logger, metrics)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), ledger, auditLogger, logger)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), ledger, settingsProvider, auditLogger, idempotency, logger)
	salesService := sales.NewService(sales.NewRepository(dbpool), ledger, settingsProvider, auditLogger, jobClient, logger).
		WithLockObserver(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		JobsHandler:        jobs.NewHandler(inspector, logger, jobs.QueueDefault, cfg.NotifyQueue),
		Metrics:            metrics,
		Health: map[string]app.HealthChecker{
			"postgres": dbpool,
			"redis": app.HealthFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
