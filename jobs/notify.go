package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/ferrochem/erp/internal/sales"
	"github.com/ferrochem/erp/internal/settings"
)

// countryPrefix is prepended to local phone numbers.
const countryPrefix = "56"

// Message is a rendered template ready for delivery.
type Message struct {
	To       string
	Template string
	Params   []string
}

// MessageSender delivers rendered messages.
type MessageSender interface {
	Send(ctx context.Context, msg Message) error
}

// PhoneDirectory resolves the contact phone of a customer.
type PhoneDirectory interface {
	CustomerPhone(ctx context.Context, customerID int64) (string, error)
}

// NormalizePhone strips formatting and applies the country prefix.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, countryPrefix) {
		return digits
	}
	return countryPrefix + digits
}

// RenderSaleStatus maps a status change to its outbound message. Pending sales
// alert the administrator, rejected and delivered sales notify the customer.
// Accepted payments produce no message.
func RenderSaleStatus(n sales.Notification, customerPhone, adminPhone string) (Message, bool) {
	id := fmt.Sprintf("%d", n.SaleID)
	switch n.Status {
	case sales.StatusPending:
		return Message{To: NormalizePhone(adminPhone), Template: "alerta_nueva_orden", Params: []string{id}}, true
	case sales.StatusPaymentRejected:
		return Message{To: NormalizePhone(customerPhone), Template: "alerta_pago_rechazado", Params: []string{id}}, true
	case sales.StatusDelivered:
		return Message{To: NormalizePhone(customerPhone), Template: "alerta_pedido_enviado", Params: []string{id}}, true
	default:
		return Message{}, false
	}
}

// SaleStatusJob handles TaskSaleStatus.
type SaleStatusJob struct {
	Sender     MessageSender
	Directory  PhoneDirectory
	AdminPhone string
	Settings   settings.Provider
	Logger     *slog.Logger
}

// Handle renders and sends the notification.
func (j *SaleStatusJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SaleStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode sale status payload: %v: %w", err, asynq.SkipRetry)
	}
	n := payload.Notification
	logger := j.logger().With(slog.String("event_id", payload.EventID), slog.Int64("sale_id", n.SaleID))

	var phone string
	if n.CustomerID != 0 && j.Directory != nil {
		var err error
		phone, err = j.Directory.CustomerPhone(ctx, n.CustomerID)
		if err != nil {
			return fmt.Errorf("resolve customer phone: %w", err)
		}
	}
	msg, ok := RenderSaleStatus(n, phone, j.adminPhone(ctx))
	if !ok {
		logger.DebugContext(ctx, "sale status has no message", slog.String("status", n.Status.String()))
		return nil
	}
	if msg.To == "" {
		logger.WarnContext(ctx, "sale notification has no recipient", slog.String("template", msg.Template))
		return nil
	}
	if j.Sender == nil {
		return fmt.Errorf("jobs: message sender not configured: %w", asynq.SkipRetry)
	}
	if err := j.Sender.Send(ctx, msg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "sale notification sent", slog.String("template", msg.Template), slog.String("to", msg.To))
	return nil
}

// adminPhone prefers the configured number and falls back to settings.
func (j *SaleStatusJob) adminPhone(ctx context.Context) string {
	if j.AdminPhone != "" || j.Settings == nil {
		return j.AdminPhone
	}
	s, err := j.Settings.Current(ctx)
	if err != nil {
		j.logger().WarnContext(ctx, "load settings for admin phone", slog.Any("error", err))
		return ""
	}
	return s.AdminPhone
}

func (j *SaleStatusJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// LogSender writes messages to the log instead of an external channel.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements MessageSender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outbound message",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.Any("params", msg.Params))
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CustomerDirectory reads customer phones from postgres.
type CustomerDirectory struct {
	db rowQuerier
}

// NewCustomerDirectory constructs the directory.
func NewCustomerDirectory(db rowQuerier) *CustomerDirectory {
	return &CustomerDirectory{db: db}
}

// CustomerPhone returns the stored phone or an empty string when unknown.
func (d *CustomerDirectory) CustomerPhone(ctx context.Context, customerID int64) (string, error) {
	var phone *string
	err := d.db.QueryRow(ctx, `SELECT phone FROM customers WHERE id=$1`, customerID).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if phone == nil {
		return "", nil
	}
	return *phone, nil
}
