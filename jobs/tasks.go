package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ferrochem/erp/internal/sales"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications is used when no notification queue is configured.
	QueueNotifications = "notifications"

	// TaskSaleStatus delivers a sale status change to the messaging channel.
	TaskSaleStatus = "notify:sale_status"
	// TaskInventoryReconcile compares lot stock against the kardex.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SaleStatusPayload is the body of a TaskSaleStatus task.
type SaleStatusPayload struct {
	EventID      string             `json:"event_id"`
	Notification sales.Notification `json:"notification"`
	RaisedAt     time.Time          `json:"raised_at"`
}

// NewSaleStatusTask constructs a sale notification task.
func NewSaleStatusTask(n sales.Notification, queue string) (*asynq.Task, error) {
	if n.SaleID == 0 {
		return nil, fmt.Errorf("jobs: sale id required")
	}
	if queue == "" {
		queue = QueueNotifications
	}
	payload := SaleStatusPayload{EventID: uuid.NewString(), Notification: n, RaisedAt: time.Now().UTC()}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSaleStatus, body, asynq.Queue(queue), asynq.MaxRetry(5)), nil
}

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	Scope string `json:"scope"`
}

// NewReconcileTask constructs the kardex reconciliation task.
func NewReconcileTask(scope string) (*asynq.Task, error) {
	if scope == "" {
		scope = "all"
	}
	body, err := json.Marshal(ReconcilePayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// IdempotencyCleanupPayload configures the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
