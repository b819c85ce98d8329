package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSaleProducts(ctx context.Context, saleID int64) ([]SaleProduct, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier delivers sale status changes outside the transaction.
type Notifier interface {
	NotifySaleStatus(ctx context.Context, n Notification) error
}

// LockObserver is told when a sale row was already locked.
type LockObserver interface {
	SaleLocked(saleID int64)
}

// Service runs checkout, payment decisions and the stock they move.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	settings settings.Provider
	audit    AuditPort
	notifier Notifier
	locks    LockObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, provider settings.Provider, audit AuditPort, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = inventory.NewLedger(logger, nil)
	}
	return &Service{repo: repo, ledger: ledger, settings: provider, audit: audit, notifier: notifier, logger: logger, now: time.Now}
}

// WithLockObserver registers the observer notified on lock conflicts.
func (s *Service) WithLockObserver(o LockObserver) *Service {
	s.locks = o
	return s
}

// CheckProductInventory reports whether qty units of a product can be sold.
func (s *Service) CheckProductInventory(ctx context.Context, productID, qty int64) error {
	if productID <= 0 || qty <= 0 {
		return shared.NewValidationError("producto y cantidad deben ser positivos")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.ValidateInventoryExistence(ctx, tx.Inventory(), []CartLine{{ProductID: productID, Quantity: qty}})
	})
}

// ValidateInventoryExistence checks the whole cart before any write. Every
// failing line is reported in a single StockError.
func (s *Service) ValidateInventoryExistence(ctx context.Context, inv inventory.TxRepository, lines []CartLine) error {
	var shortages []Shortage
	for _, line := range mergeLines(lines) {
		header, err := inv.GetInventoryByProduct(ctx, line.ProductID)
		if errors.Is(err, inventory.ErrInventoryNotFound) {
			shortages = append(shortages, Shortage{ProductID: line.ProductID, Requested: line.Quantity, Missing: true})
			continue
		}
		if err != nil {
			return err
		}
		available, err := inv.SumAvailableStock(ctx, line.ProductID)
		if err != nil {
			return err
		}
		shortage := Shortage{
			ProductID:   line.ProductID,
			ProductName: header.ProductName,
			Available:   available,
			Requested:   line.Quantity,
			Minimum:     header.MinimumStock,
		}
		if available < line.Quantity || available-line.Quantity < header.MinimumStock {
			shortages = append(shortages, shortage)
		}
	}
	if len(shortages) > 0 {
		return &StockError{Shortages: shortages}
	}
	return nil
}

// PlaceOrder validates stock and stores the sale with pending lines. Stock
// moves only when the payment is accepted.
func (s *Service) PlaceOrder(ctx context.Context, in OrderInput) (Sale, error) {
	if len(in.Lines) == 0 {
		return Sale{}, ErrEmptyCart
	}
	for _, line := range in.Lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return Sale{}, ErrEmptyCart
		}
	}
	if in.ShippingMethod == 0 {
		in.ShippingMethod = ShippingPickup
	}
	current, err := s.currentSettings(ctx)
	if err != nil {
		return Sale{}, err
	}

	var sale Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ValidateInventoryExistence(ctx, tx.Inventory(), in.Lines); err != nil {
			return err
		}
		prices := make([]int64, len(in.Lines))
		var subtotal int64
		for i, line := range in.Lines {
			price, err := s.cartPrice(ctx, tx.Inventory(), in.Role, in.PrivatePricing, line)
			if err != nil {
				return err
			}
			prices[i] = price
			subtotal += price * line.Quantity
		}
		now := s.now()
		sale = Sale{
			CustomerID:      in.CustomerID,
			Role:            in.Role,
			PrivatePricing:  in.PrivatePricing,
			ShippingMethod:  in.ShippingMethod,
			DocumentTypeID:  in.DocumentTypeID,
			Status:          StatusPending,
			DeliveryAddress: in.DeliveryAddress,
			AddedAt:         now,
			UpdatedAt:       now,
		}
		sale.Subtotal, sale.ShippingCost, sale.Tax, sale.Total = OrderTotals(subtotal, in.ShippingMethod, current)
		var err error
		if sale.ID, err = tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for i, line := range in.Lines {
			row := SaleProduct{SaleID: sale.ID, ProductID: line.ProductID, Quantity: line.Quantity, Price: prices[i], LotNumbers: line.LotNumbers}
			if _, err := tx.InsertSaleProduct(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, "SALE_CREATE", sale.ID, map[string]any{"total": sale.Total, "lines": len(in.Lines)})
	s.notify(ctx, sale)
	return sale, nil
}

// OrderTotals computes shipping, tax and total. Shipping applies only to
// delivery orders and is taxed together with the goods.
func OrderTotals(subtotal int64, method ShippingMethod, current settings.Settings) (sub, shipping, tax, total int64) {
	if method == ShippingDelivery {
		shipping = current.DeliveryCost
	}
	base := decimal.NewFromInt(subtotal + shipping)
	tax = base.Mul(current.Tax()).RoundBank(0).IntPart()
	return subtotal, shipping, tax, subtotal + shipping + tax
}

// FulfillSale consumes stock for the given lines of a pending sale and marks
// it accepted in one transaction. A sale that is no longer pending is refused,
// so stock is never drawn twice for the same sale.
func (s *Service) FulfillSale(ctx context.Context, saleID int64, lines []CartLine, role Role) (FulfillmentResult, error) {
	var (
		result FulfillmentResult
		sale   Sale
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if sale, err = s.transition(ctx, tx, saleID, StatusPaymentAccepted); err != nil {
			return err
		}
		result, err = s.settle(ctx, tx, &sale, lines, role, nil)
		return err
	})
	if err != nil {
		return FulfillmentResult{}, err
	}
	s.accepted(ctx, "SALE_FULFILL", sale, result)
	return result, nil
}

// ReverseSale books reversal movements for every fulfilled line and marks the
// sale rejected. A sale already rejected is skipped.
func (s *Service) ReverseSale(ctx context.Context, saleID int64) ([]inventory.Movement, error) {
	var movements []inventory.Movement
	skipped := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		skipped = false
		sale, err := s.lockSale(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == StatusPaymentRejected {
			skipped = true
			return nil
		}
		if movements, err = s.reverse(ctx, tx, sale.ID); err != nil {
			return err
		}
		return tx.UpdateSaleStatus(ctx, sale.ID, StatusPaymentRejected, s.now())
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		s.logger.InfoContext(ctx, "sale already reversed", slog.Int64("sale_id", saleID))
		return nil, nil
	}
	s.ledger.Publish(movements...)
	s.recordAudit(ctx, "SALE_REVERSE", saleID, map[string]any{"movements": len(movements)})
	return movements, nil
}

// AcceptPayment fulfills the pending lines of a sale and marks it accepted.
func (s *Service) AcceptPayment(ctx context.Context, saleID int64) (FulfillmentResult, error) {
	var (
		result FulfillmentResult
		sale   Sale
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if sale, err = s.transition(ctx, tx, saleID, StatusPaymentAccepted); err != nil {
			return err
		}
		rows, err := tx.ListSaleProducts(ctx, sale.ID)
		if err != nil {
			return err
		}
		var (
			lines   []CartLine
			pending []int64
		)
		for _, row := range rows {
			if !row.Pending() {
				continue
			}
			pending = append(pending, row.ID)
			if row.Quantity > 0 {
				lines = append(lines, CartLine{ProductID: row.ProductID, Quantity: row.Quantity, LotNumbers: row.LotNumbers})
			}
		}
		result, err = s.settle(ctx, tx, &sale, lines, sale.Role, pending)
		return err
	})
	if err != nil {
		return FulfillmentResult{}, err
	}
	s.accepted(ctx, "SALE_ACCEPT_PAYMENT", sale, result)
	return result, nil
}

// settle validates and draws stock for lines, replaces the pending rows and
// marks the locked sale accepted.
func (s *Service) settle(ctx context.Context, tx TxRepository, sale *Sale, lines []CartLine, role Role, pending []int64) (FulfillmentResult, error) {
	if len(lines) > 0 {
		if err := s.ValidateInventoryExistence(ctx, tx.Inventory(), lines); err != nil {
			return FulfillmentResult{}, err
		}
	}
	for _, id := range pending {
		if err := tx.DeleteSaleProduct(ctx, id); err != nil {
			return FulfillmentResult{}, err
		}
	}
	result, err := s.fulfill(ctx, tx, sale.ID, lines, role, sale.PrivatePricing)
	if err != nil {
		return FulfillmentResult{}, err
	}
	sale.Status = StatusPaymentAccepted
	return result, tx.UpdateSaleStatus(ctx, sale.ID, StatusPaymentAccepted, s.now())
}

// accepted runs the post-commit side effects of an accepted sale.
func (s *Service) accepted(ctx context.Context, action string, sale Sale, result FulfillmentResult) {
	s.ledger.Publish(result.Movements...)
	s.recordAudit(ctx, action, sale.ID, map[string]any{"lines": len(result.ProcessedLines)})
	s.notify(ctx, sale)
}

// RejectPayment reverses the stock of a sale and marks it rejected.
func (s *Service) RejectPayment(ctx context.Context, saleID int64) ([]inventory.Movement, error) {
	var (
		movements []inventory.Movement
		sale      Sale
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if sale, err = s.transition(ctx, tx, saleID, StatusPaymentRejected); err != nil {
			return err
		}
		if movements, err = s.reverse(ctx, tx, sale.ID); err != nil {
			return err
		}
		sale.Status = StatusPaymentRejected
		return tx.UpdateSaleStatus(ctx, sale.ID, StatusPaymentRejected, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Publish(movements...)
	s.recordAudit(ctx, "SALE_REJECT_PAYMENT", saleID, map[string]any{"movements": len(movements)})
	s.notify(ctx, sale)
	return movements, nil
}

// MarkDelivered marks an accepted sale as delivered.
func (s *Service) MarkDelivered(ctx context.Context, saleID int64) error {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if sale, err = s.transition(ctx, tx, saleID, StatusDelivered); err != nil {
			return err
		}
		sale.Status = StatusDelivered
		return tx.UpdateSaleStatus(ctx, sale.ID, StatusDelivered, s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "SALE_DELIVERED", saleID, nil)
	s.notify(ctx, sale)
	return nil
}

// GetSale returns a sale with its lines.
func (s *Service) GetSale(ctx context.Context, saleID int64) (Sale, []SaleProduct, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return Sale{}, nil, err
	}
	lines, err := s.repo.ListSaleProducts(ctx, saleID)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

func (s *Service) lockSale(ctx context.Context, tx TxRepository, saleID int64) (Sale, error) {
	sale, err := tx.LockSale(ctx, saleID)
	if errors.Is(err, ErrSaleLocked) {
		s.logger.WarnContext(ctx, "sale locked by another request", slog.Int64("sale_id", saleID))
		if s.locks != nil {
			s.locks.SaleLocked(saleID)
		}
	}
	return sale, err
}

// transition locks the sale and checks that it may move to target.
func (s *Service) transition(ctx context.Context, tx TxRepository, saleID int64, target Status) (Sale, error) {
	sale, err := s.lockSale(ctx, tx, saleID)
	if err != nil {
		return Sale{}, err
	}
	if sale.Status == target {
		return Sale{}, ErrAlreadyInStatus
	}
	if !canTransition(sale.Status, target) {
		return Sale{}, fmt.Errorf("sale %d %s to %s: %w", saleID, sale.Status, target, ErrInvalidTransition)
	}
	return sale, nil
}

func canTransition(from, to Status) bool {
	switch to {
	case StatusPaymentAccepted:
		return from == StatusPending
	case StatusPaymentRejected:
		return from == StatusPending || from == StatusPaymentAccepted
	case StatusDelivered:
		return from == StatusPaymentAccepted
	default:
		return false
	}
}

func (s *Service) fulfill(ctx context.Context, tx TxRepository, saleID int64, lines []CartLine, role Role, private bool) (FulfillmentResult, error) {
	var result FulfillmentResult
	for _, line := range lines {
		consumed, err := s.ledger.Consume(ctx, tx.Inventory(), inventory.ConsumeInput{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			LotNumbers: line.LotNumbers,
			Type:       inventory.MovementSale,
			Reason:     inventory.ReasonSale,
		})
		if err != nil {
			return FulfillmentResult{}, fmt.Errorf("sales: sale %d product %d: %w", saleID, line.ProductID, err)
		}
		for _, c := range consumed.Consumptions {
			row := SaleProduct{
				SaleID:      saleID,
				ProductID:   line.ProductID,
				MovementID:  c.Movement.ID,
				InventoryID: consumed.InventoryID,
				LotItemID:   c.LotItem.ID,
				Quantity:    c.Taken,
				Price:       priceFor(role, private, c.Movement.UnitCost, c.LotItem),
				LotNumbers:  []string{c.LotItem.LotNumber},
			}
			if row.ID, err = tx.InsertSaleProduct(ctx, row); err != nil {
				return FulfillmentResult{}, err
			}
			result.ProcessedLines = append(result.ProcessedLines, row)
			result.Movements = append(result.Movements, c.Movement)
		}
		result.KardexDeltas = append(result.KardexDeltas, KardexDelta{
			ProductID:   line.ProductID,
			Processed:   consumed.Processed,
			Quantity:    consumed.Kardex.Quantity,
			AverageCost: consumed.AverageCost,
		})
	}
	return result, nil
}

func (s *Service) reverse(ctx context.Context, tx TxRepository, saleID int64) ([]inventory.Movement, error) {
	rows, err := tx.ListSaleProducts(ctx, saleID)
	if err != nil {
		return nil, err
	}
	var movements []inventory.Movement
	for _, row := range rows {
		if row.Pending() {
			continue
		}
		mv, err := s.ledger.Reverse(ctx, tx.Inventory(), row.MovementID)
		if err != nil {
			return nil, fmt.Errorf("sales: reverse sale %d movement %d: %w", saleID, row.MovementID, err)
		}
		movements = append(movements, mv)
	}
	return movements, nil
}

// cartPrice prices a pending line. Privileged roles pay the kardex average,
// falling back to the shown public price when the product has no kardex row.
func (s *Service) cartPrice(ctx context.Context, inv inventory.TxRepository, role Role, private bool, line CartLine) (int64, error) {
	if role == RoleSeller && private {
		return line.PrivateSalePrice, nil
	}
	if !role.Privileged() {
		return line.PublicSalePrice, nil
	}
	k, err := inv.GetKardexForUpdate(ctx, line.ProductID)
	if errors.Is(err, inventory.ErrKardexNotFound) {
		return line.PublicSalePrice, nil
	}
	if err != nil {
		return 0, err
	}
	return k.AverageCost, nil
}

func (s *Service) currentSettings(ctx context.Context) (settings.Settings, error) {
	if s.settings == nil {
		return settings.Settings{}, nil
	}
	current, err := s.settings.Current(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("sales: settings: %w", err)
	}
	return current, nil
}

func (s *Service) notify(ctx context.Context, sale Sale) {
	if s.notifier == nil {
		return
	}
	n := Notification{SaleID: sale.ID, CustomerID: sale.CustomerID, Status: sale.Status, Total: sale.Total}
	if err := s.notifier.NotifySaleStatus(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "sale notification failed", slog.Int64("sale_id", sale.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, saleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: shared.ActorFromContext(ctx), Action: action, Entity: "sale", EntityID: strconv.FormatInt(saleID, 10), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// mergeLines sums quantities of repeated products, keeping first-seen order.
func mergeLines(lines []CartLine) []CartLine {
	index := make(map[int64]int, len(lines))
	merged := make([]CartLine, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}
