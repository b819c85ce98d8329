package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ferrochem/erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListKardex(ctx context.Context, limit, offset int) ([]KardexEntry, int, error)
	GetKardex(ctx context.Context, productID int64) (KardexEntry, error)
	AllKardex(ctx context.Context) ([]KardexEntry, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	StockDrift(ctx context.Context) ([]StockDrift, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates adjustments and kardex queries.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewLedger(logger, nil)
	}
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger}
}

// AddAdjustment books a manual inflow into the named lot. Unlike sales it
// moves the weighted average.
func (s *Service) AddAdjustment(ctx context.Context, input AdjustmentInput) (ReceiptResult, error) {
	if input.ProductID == 0 {
		return ReceiptResult{}, errors.New("inventory: product required")
	}
	if input.Quantity <= 0 {
		return ReceiptResult{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return ReceiptResult{}, ErrInvalidUnitCost
	}
	lotNumber := strings.TrimSpace(input.LotNumber)
	if lotNumber == "" {
		lotNumber = fmt.Sprintf("ADJ-%s", time.Now().UTC().Format("20060102"))
	}
	var result ReceiptResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		supplierID := input.SupplierID
		if supplierID == 0 {
			var err error
			if supplierID, err = tx.ProductSupplierID(ctx, input.ProductID); err != nil {
				return err
			}
		}
		var err error
		result, err = s.ledger.Receive(ctx, tx, ReceiptInput{
			ProductID:        input.ProductID,
			SupplierID:       supplierID,
			LotNumber:        lotNumber,
			Quantity:         input.Quantity,
			UnitCost:         input.UnitCost,
			PublicSalePrice:  input.PublicSalePrice,
			PrivateSalePrice: input.PrivateSalePrice,
			Type:             MovementAdjustmentIn,
			Reason:           defaultString(input.Reason, ReasonAdjustmentIn),
		})
		return err
	})
	if err != nil {
		return ReceiptResult{}, err
	}
	s.ledger.Publish(result.Movement)
	s.recordAudit(ctx, input.ActorID, "INVENTORY_ADJUST_IN", AdjustmentPostedEvent{
		ProductID:   input.ProductID,
		Type:        MovementAdjustmentIn,
		Quantity:    input.Quantity,
		AverageCost: result.Kardex.AverageCost,
		MovementIDs: []int64{result.MovementID},
	})
	return result, nil
}

// RemoveAdjustment books a manual outflow. The product must already have a
// kardex row; lots are drawn oldest first.
func (s *Service) RemoveAdjustment(ctx context.Context, input RemovalInput) (ConsumeResult, error) {
	if input.ProductID == 0 {
		return ConsumeResult{}, errors.New("inventory: product required")
	}
	if input.Quantity <= 0 {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	var result ConsumeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetKardexForUpdate(ctx, input.ProductID); err != nil {
			return err
		}
		available, err := s.ledger.AvailableStock(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if available < input.Quantity {
			return shared.NewValidationError(fmt.Sprintf("producto %d: stock disponible %d, solicitado %d", input.ProductID, available, input.Quantity))
		}
		result, err = s.ledger.Consume(ctx, tx, ConsumeInput{
			ProductID: input.ProductID,
			Quantity:  input.Quantity,
			Type:      MovementAdjustmentOut,
			Reason:    defaultString(input.Reason, ReasonAdjustmentOut),
		})
		return err
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	movements := result.Movements()
	s.ledger.Publish(movements...)
	ids := make([]int64, 0, len(movements))
	for _, mv := range movements {
		ids = append(ids, mv.ID)
	}
	s.recordAudit(ctx, input.ActorID, "INVENTORY_ADJUST_OUT", AdjustmentPostedEvent{
		ProductID:   input.ProductID,
		Type:        MovementAdjustmentOut,
		Quantity:    input.Quantity,
		AverageCost: result.AverageCost,
		MovementIDs: ids,
	})
	return result, nil
}

// ListKardex returns a page of kardex rows.
func (s *Service) ListKardex(ctx context.Context, page, perPage int) ([]KardexEntry, shared.Pagination, error) {
	if page < 0 || perPage < 0 {
		return nil, shared.Pagination{}, shared.NewValidationError("page and per_page must not be negative")
	}
	p := shared.NewPagination(page, perPage, 0)
	entries, total, err := s.repo.ListKardex(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// GetKardex returns the kardex row of a product.
func (s *Service) GetKardex(ctx context.Context, productID int64) (KardexEntry, error) {
	return s.repo.GetKardex(ctx, productID)
}

// Summary aggregates every kardex row.
func (s *Service) Summary(ctx context.Context) (KardexSummary, error) {
	entries, err := s.repo.AllKardex(ctx)
	if err != nil {
		return KardexSummary{}, err
	}
	return Summarize(entries), nil
}

// Summarize totals kardex rows; the overall average is value over quantity.
func Summarize(entries []KardexEntry) KardexSummary {
	summary := KardexSummary{TotalProducts: len(entries)}
	for _, e := range entries {
		summary.TotalQuantity += e.Quantity
		summary.TotalValue += e.Quantity * e.AverageCost
	}
	if summary.TotalQuantity > 0 {
		summary.AverageCostOverall = summary.TotalValue / summary.TotalQuantity
	}
	return summary
}

// ListMovements returns the ledger of a product.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 {
		return nil, errors.New("inventory: product required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// Reconcile reports products whose lot stock no longer matches the kardex.
func (s *Service) Reconcile(ctx context.Context) ([]StockDrift, error) {
	drift, err := s.repo.StockDrift(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drift {
		s.logger.WarnContext(ctx, "kardex drift",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("kardex_quantity", d.KardexQuantity),
			slog.Int64("lot_quantity", d.LotQuantity))
	}
	return drift, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, evt AdjustmentPostedEvent) {
	if s.audit == nil {
		return
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: "inventory", EntityID: fmt.Sprintf("%d", evt.ProductID), Meta: evt.meta()}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
