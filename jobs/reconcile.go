package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/shared"
)

// Reconciler reports kardex drift.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.StockDrift, error)
}

// ReconcileJob runs the kardex reconciliation under a redis lock so that only
// one worker scans at a time.
type ReconcileJob struct {
	Reconciler Reconciler
	Locker     *redislock.Client
	LockTTL    time.Duration
	Logger     *slog.Logger
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(reconciler Reconciler, locker *redislock.Client, logger *slog.Logger) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Locker: locker, LockTTL: 10 * time.Minute, Logger: logger}
}

// Handle executes the reconciliation.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return fmt.Errorf("jobs: reconcile job not configured: %w", asynq.SkipRetry)
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(slog.String("task", TaskInventoryReconcile), slog.String("scope", payload.Scope))

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey(payload.Scope), j.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.InfoContext(ctx, "reconcile already running")
			return nil
		}
		if err != nil {
			return fmt.Errorf("obtain reconcile lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.WarnContext(ctx, "release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	started := time.Now()
	drift, err := j.Reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "reconcile finished",
		slog.Int("drifted_products", len(drift)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// IdempotencyCleaner removes stale idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob handles TaskIdempotencyCleanup.
type IdempotencyCleanupJob struct {
	Store  IdempotencyCleaner
	Logger *slog.Logger
}

// Handle purges keys older than the payload retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return fmt.Errorf("jobs: idempotency cleanup not configured: %w", asynq.SkipRetry)
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionHours <= 0 {
		return fmt.Errorf("retention must be positive: %w", asynq.SkipRetry)
	}
	removed, err := j.Store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "idempotency keys purged", slog.Int64("removed", removed))
	return nil
}
