package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards one-shot operations.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates purchase staging, costing and receiving.
type Service struct {
	repo        RepositoryPort
	ledger      *inventory.Ledger
	settings    settings.Provider
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, provider settings.Provider, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = inventory.NewLedger(logger, nil)
	}
	return &Service{repo: repo, ledger: ledger, settings: provider, audit: audit, idempotency: idem, logger: logger}
}

// StageStock records physically counted quantities under the next lot number.
// Staging again replaces the previous counts.
func (s *Service) StageStock(ctx context.Context, shoppingID int64, lines []StageLine) ([]PreInventoryStock, error) {
	if len(lines) == 0 {
		return nil, ErrNothingStaged
	}
	verr := shared.NewValidationError()
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if line.ProductID == 0 {
			verr.Add("product required")
		}
		if line.Stock < 0 {
			verr.Add(fmt.Sprintf("producto %d: stock negativo", line.ProductID))
		}
		if seen[line.ProductID] {
			verr.Add(fmt.Sprintf("producto %d repetido", line.ProductID))
		}
		seen[line.ProductID] = true
	}
	if !verr.Empty() {
		return nil, verr
	}
	var staged []PreInventoryStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sh, err := tx.LockShopping(ctx, shoppingID)
		if err != nil {
			return err
		}
		if sh.StatusID == StatusReceived {
			return ErrAlreadyReceived
		}
		next, err := tx.NextLotNumber(ctx)
		if err != nil {
			return err
		}
		if err := tx.DeletePreInventory(ctx, shoppingID); err != nil {
			return err
		}
		lotNumber := strconv.FormatInt(next, 10)
		rows := make([]PreInventoryStock, 0, len(lines))
		for _, line := range lines {
			row := PreInventoryStock{ShoppingID: shoppingID, ProductID: line.ProductID, LotNumber: lotNumber, Stock: line.Stock}
			if row.ID, err = tx.InsertPreInventory(ctx, row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if err := tx.UpdateShoppingStatus(ctx, shoppingID, StatusStaged); err != nil {
			return err
		}
		staged = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "SHOPPING_STAGE", shoppingID, map[string]any{"lot_number": staged[0].LotNumber, "lines": len(staged)})
	return staged, nil
}

// UpdateLandedCosts stores the freight and customs figures of a purchase.
func (s *Service) UpdateLandedCosts(ctx context.Context, shoppingID int64, in LandedCostInput) error {
	for field, charge := range in.Charges {
		if !field.Valid() {
			return shared.NewValidationError(fmt.Sprintf("unknown cost field %q", field))
		}
		if charge.Amount.IsNegative() || charge.DollarRate.IsNegative() {
			return shared.NewValidationError(fmt.Sprintf("%s must not be negative", field))
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockShopping(ctx, shoppingID); err != nil {
			return err
		}
		return tx.UpdateLandedCosts(ctx, shoppingID, in)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "SHOPPING_LANDED_COSTS", shoppingID, map[string]any{"fields": len(in.Charges)})
	return nil
}

// ComputeLandedUnitCost prices one product of a purchase per real unit
// (liter, kilogram or piece) including its share of freight and customs.
// A staged product uses its counted stock; otherwise stagedQty is used and
// the product takes no shipping share.
func (s *Service) ComputeLandedUnitCost(ctx context.Context, shoppingID, productID, stagedQty int64) (LandedCost, error) {
	discount, err := s.prepaidDiscount(ctx)
	if err != nil {
		return LandedCost{}, err
	}
	basis, products, err := loadBasis(ctx, s.repo, shoppingID, discount)
	if err != nil {
		return LandedCost{}, err
	}
	return landedCostFor(basis, products, productID, stagedQty)
}

// LandedCostReport prices every staged product of a purchase.
func (s *Service) LandedCostReport(ctx context.Context, shoppingID int64) ([]LandedCost, error) {
	discount, err := s.prepaidDiscount(ctx)
	if err != nil {
		return nil, err
	}
	basis, _, err := loadBasis(ctx, s.repo, shoppingID, discount)
	if err != nil {
		return nil, err
	}
	return AllocateLandedCosts(basis), nil
}

// Totals summarises quantities, weights, pallets and amounts of a purchase.
func (s *Service) Totals(ctx context.Context, shoppingID int64) (Totals, error) {
	sh, err := s.repo.GetShopping(ctx, shoppingID)
	if err != nil {
		return Totals{}, err
	}
	lines, err := s.repo.ListShoppingProducts(ctx, shoppingID)
	if err != nil {
		return Totals{}, err
	}
	discount, err := s.prepaidDiscount(ctx)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(sh, lines, discount), nil
}

// ReceiveGoods books staged items into lots and the kardex in a single
// transaction and marks the purchase received.
func (s *Service) ReceiveGoods(ctx context.Context, shoppingID int64, items []StagedItem) ([]inventory.ReceiptResult, error) {
	if len(items) == 0 {
		return nil, ErrNothingStaged
	}
	for _, item := range items {
		if item.ProductID == 0 {
			return nil, shared.NewValidationError("product required")
		}
		if item.Stock < 0 {
			return nil, shared.NewValidationError(fmt.Sprintf("producto %d: stock negativo", item.ProductID))
		}
	}
	discount, err := s.prepaidDiscount(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("RECEIPT:%d", shoppingID)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receipt"); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				return nil, ErrAlreadyReceived
			}
			return nil, err
		}
		inserted = true
	}

	var results []inventory.ReceiptResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sh, err := tx.LockShopping(ctx, shoppingID)
		if err != nil {
			return err
		}
		if sh.StatusID == StatusReceived {
			return ErrAlreadyReceived
		}
		basis, products, err := loadBasis(ctx, tx, shoppingID, discount)
		if err != nil {
			return err
		}
		lotNumbers := make(map[int64]string, len(basis.Lines))
		staged, err := tx.ListPreInventory(ctx, shoppingID)
		if err != nil {
			return err
		}
		for _, row := range staged {
			lotNumbers[row.ProductID] = row.LotNumber
		}
		var (
			fallbackLot string
			received    []inventory.ReceiptResult
		)
		for _, item := range items {
			if item.Stock == 0 {
				continue
			}
			cost, err := landedCostFor(basis, products, item.ProductID, item.Stock)
			if err != nil {
				return err
			}
			lotNumber := item.LotNumber
			if lotNumber == "" {
				lotNumber = lotNumbers[item.ProductID]
			}
			if lotNumber == "" {
				if fallbackLot == "" {
					next, err := tx.NextLotNumber(ctx)
					if err != nil {
						return err
					}
					fallbackLot = strconv.FormatInt(next, 10)
				}
				lotNumber = fallbackLot
			}
			res, err := s.ledger.Receive(ctx, tx.Inventory(), inventory.ReceiptInput{
				ProductID:        item.ProductID,
				SupplierID:       sh.SupplierID,
				LotNumber:        lotNumber,
				ArrivalDate:      item.ArrivalDate,
				Quantity:         item.Stock,
				UnitCost:         cost.UnitCost,
				PublicSalePrice:  item.PublicSalePrice,
				PrivateSalePrice: item.PrivateSalePrice,
				LocationID:       item.LocationID,
				MinimumStock:     item.MinimumStock,
				MaximumStock:     item.MaximumStock,
				Type:             inventory.MovementReceipt,
				Reason:           inventory.ReasonReceipt,
			})
			if err != nil {
				return fmt.Errorf("procurement: receive product %d: %w", item.ProductID, err)
			}
			received = append(received, res)
		}
		if len(received) == 0 {
			return ErrNothingStaged
		}
		if err := tx.UpdateShoppingStatus(ctx, shoppingID, StatusReceived); err != nil {
			return err
		}
		results = received
		return nil
	})
	if err != nil {
		if inserted && !errors.Is(err, ErrAlreadyReceived) {
			if derr := s.idempotency.Delete(ctx, key); derr != nil {
				s.logger.WarnContext(ctx, "idempotency rollback", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return nil, err
	}
	for _, res := range results {
		s.ledger.Publish(res.Movement)
	}
	s.recordAudit(ctx, "SHOPPING_RECEIVE", shoppingID, map[string]any{"products": len(results)})
	s.logger.InfoContext(ctx, "goods received", slog.Int64("shopping_id", shoppingID), slog.Int("products", len(results)))
	return results, nil
}

func (s *Service) prepaidDiscount(ctx context.Context) (decimal.Decimal, error) {
	if s.settings == nil {
		return decimal.Zero, nil
	}
	current, err := s.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("procurement: settings: %w", err)
	}
	return current.PrepaidDiscount, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: shared.ActorFromContext(ctx), Action: action, Entity: "procurement", EntityID: strconv.FormatInt(entityID, 10), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// loadBasis builds the cost basis from the staged rows in staging order.
func loadBasis(ctx context.Context, r Reader, shoppingID int64, discount decimal.Decimal) (CostBasis, map[int64]ShoppingProduct, error) {
	sh, err := r.GetShopping(ctx, shoppingID)
	if err != nil {
		return CostBasis{}, nil, err
	}
	lines, err := r.ListShoppingProducts(ctx, shoppingID)
	if err != nil {
		return CostBasis{}, nil, err
	}
	staged, err := r.ListPreInventory(ctx, shoppingID)
	if err != nil {
		return CostBasis{}, nil, err
	}
	products := make(map[int64]ShoppingProduct, len(lines))
	for _, line := range lines {
		products[line.ProductID] = line
	}
	basis := CostBasis{Shopping: sh, PrepaidDiscount: discount}
	for _, row := range staged {
		product, ok := products[row.ProductID]
		if !ok {
			continue
		}
		basis.Lines = append(basis.Lines, CostLine{Product: product, Staged: row.Stock})
	}
	return basis, products, nil
}

func landedCostFor(basis CostBasis, products map[int64]ShoppingProduct, productID, stagedQty int64) (LandedCost, error) {
	product, ok := products[productID]
	if !ok {
		return LandedCost{}, fmt.Errorf("procurement: product %d not in shopping %d: %w", productID, basis.Shopping.ID, shared.ErrNotFound)
	}
	for _, row := range AllocateLandedCosts(basis) {
		if row.ProductID == productID {
			return row, nil
		}
	}
	return MerchandiseOnly(basis, CostLine{Product: product, Staged: stagedQty}), nil
}
