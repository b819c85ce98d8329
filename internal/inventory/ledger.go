package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Ledger applies lot, kardex and movement changes inside a caller's transaction.
// It is shared by purchase receiving, sales and adjustments so every path
// keeps LotItem, InventoryLotItem and the kardex in step.
type Ledger struct {
	logger   *slog.Logger
	observer MovementObserver
	now      func() time.Time
}

// NewLedger builds a Ledger. observer may be nil.
func NewLedger(logger *slog.Logger, observer MovementObserver) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{logger: logger, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the ledger clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Receive places quantity into a lot item, folds the cost into the kardex
// average and appends an inflow movement valued at the new average.
func (l *Ledger) Receive(ctx context.Context, tx TxRepository, in ReceiptInput) (ReceiptResult, error) {
	if in.ProductID == 0 {
		return ReceiptResult{}, errors.New("inventory: product required")
	}
	if in.Quantity <= 0 {
		return ReceiptResult{}, ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return ReceiptResult{}, ErrInvalidUnitCost
	}
	if strings.TrimSpace(in.LotNumber) == "" {
		return ReceiptResult{}, errors.New("inventory: lot number required")
	}
	if in.Type == 0 {
		in.Type = MovementReceipt
	}
	if !in.Type.Inflow() {
		return ReceiptResult{}, fmt.Errorf("inventory: %s is not an inflow", in.Type)
	}
	now := l.now()
	if in.ArrivalDate.IsZero() {
		in.ArrivalDate = now
	}

	inv, err := l.ensureInventory(ctx, tx, in)
	if err != nil {
		return ReceiptResult{}, err
	}

	lot, err := tx.FindLot(ctx, in.SupplierID, in.LotNumber)
	if errors.Is(err, ErrLotNotFound) {
		lot = Lot{SupplierID: in.SupplierID, LotNumber: in.LotNumber, ArrivalDate: in.ArrivalDate}
		lot.ID, err = tx.InsertLot(ctx, lot)
	}
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("inventory: lot %s: %w", in.LotNumber, err)
	}

	unitCost := RoundCost(in.UnitCost)
	item, err := tx.FindLotItem(ctx, lot.ID, in.ProductID)
	switch {
	case errors.Is(err, ErrLotItemNotFound):
		item = LotItem{
			LotID:            lot.ID,
			ProductID:        in.ProductID,
			Quantity:         in.Quantity,
			UnitCost:         unitCost,
			PublicSalePrice:  in.PublicSalePrice,
			PrivateSalePrice: in.PrivateSalePrice,
			LotNumber:        lot.LotNumber,
			ArrivalDate:      lot.ArrivalDate,
		}
		if item.ID, err = tx.InsertLotItem(ctx, item); err != nil {
			return ReceiptResult{}, err
		}
	case err != nil:
		return ReceiptResult{}, err
	default:
		item.Quantity += in.Quantity
		item.UnitCost = unitCost
		if in.PublicSalePrice > 0 {
			item.PublicSalePrice = in.PublicSalePrice
		}
		if in.PrivateSalePrice > 0 {
			item.PrivateSalePrice = in.PrivateSalePrice
		}
		if err := tx.UpdateLotItem(ctx, item); err != nil {
			return ReceiptResult{}, err
		}
	}
	if err := tx.AdjustInventoryLotItem(ctx, inv.ID, item.ID, in.Quantity); err != nil {
		return ReceiptResult{}, err
	}

	current, err := lookupKardex(ctx, tx, in.ProductID)
	if err != nil {
		return ReceiptResult{}, err
	}
	kardex := ApplyReceipt(current, in.ProductID, in.Quantity, in.UnitCost, now)
	if err := tx.UpsertKardex(ctx, kardex); err != nil {
		return ReceiptResult{}, err
	}

	reason := in.Reason
	if reason == "" {
		reason = ReasonReceipt
	}
	mv := Movement{
		InventoryID: inv.ID,
		ProductID:   in.ProductID,
		LotItemID:   item.ID,
		Type:        in.Type,
		Quantity:    in.Quantity,
		UnitCost:    kardex.AverageCost,
		Reason:      reason,
		CreatedAt:   now,
	}
	if mv.ID, err = tx.InsertMovement(ctx, mv); err != nil {
		return ReceiptResult{}, err
	}
	if err := tx.TouchInventory(ctx, inv.ID, now); err != nil {
		return ReceiptResult{}, err
	}

	return ReceiptResult{
		ProductID:   in.ProductID,
		InventoryID: inv.ID,
		LotID:       lot.ID,
		LotItemID:   item.ID,
		MovementID:  mv.ID,
		Kardex:      kardex,
		Movement:    mv,
	}, nil
}

// Consume draws quantity from lot items, oldest arrival first unless lot
// numbers are given, then applies a single kardex outflow. Movements are
// valued at the kardex average held before the draw. Running out of lots
// returns ErrInsufficientStock and the caller's transaction must roll back.
func (l *Ledger) Consume(ctx context.Context, tx TxRepository, in ConsumeInput) (ConsumeResult, error) {
	if in.Quantity <= 0 {
		return ConsumeResult{}, ErrInvalidQuantity
	}
	if in.Type == 0 {
		in.Type = MovementSale
	}
	if in.Type.Inflow() {
		return ConsumeResult{}, fmt.Errorf("inventory: %s is not an outflow", in.Type)
	}
	now := l.now()

	inv, err := tx.GetInventoryByProduct(ctx, in.ProductID)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("inventory: product %d: %w", in.ProductID, err)
	}

	var items []LotItem
	if len(in.LotNumbers) > 0 {
		items, err = tx.FindLotItemsByNumbers(ctx, in.ProductID, in.LotNumbers)
	} else {
		items, err = tx.ListAvailableLotItems(ctx, in.ProductID)
	}
	if err != nil {
		return ConsumeResult{}, err
	}

	current, err := lookupKardex(ctx, tx, in.ProductID)
	if err != nil {
		return ConsumeResult{}, err
	}

	result := ConsumeResult{
		ProductID:   in.ProductID,
		InventoryID: inv.ID,
		Requested:   in.Quantity,
		KardexFound: current != nil,
	}
	if current != nil {
		result.AverageCost = current.AverageCost
	}

	reason := in.Reason
	if reason == "" {
		reason = ReasonSale
	}
	remaining := in.Quantity
	for _, item := range items {
		if remaining == 0 {
			break
		}
		take := min(remaining, item.Quantity)
		if take <= 0 {
			continue
		}
		item.Quantity -= take
		if err := tx.UpdateLotItem(ctx, item); err != nil {
			return ConsumeResult{}, err
		}
		if err := tx.AdjustInventoryLotItem(ctx, inv.ID, item.ID, -take); err != nil {
			return ConsumeResult{}, err
		}
		unitCost := item.UnitCost
		if current != nil {
			unitCost = current.AverageCost
		}
		mv := Movement{
			InventoryID: inv.ID,
			ProductID:   in.ProductID,
			LotItemID:   item.ID,
			Type:        in.Type,
			Quantity:    -take,
			UnitCost:    unitCost,
			Reason:      reason,
			CreatedAt:   now,
		}
		if mv.ID, err = tx.InsertMovement(ctx, mv); err != nil {
			return ConsumeResult{}, err
		}
		result.Consumptions = append(result.Consumptions, Consumption{LotItem: item, Taken: take, Movement: mv})
		remaining -= take
	}
	result.Processed = in.Quantity - remaining
	if remaining > 0 {
		return result, fmt.Errorf("product %d short by %d: %w", in.ProductID, remaining, ErrInsufficientStock)
	}

	if current == nil {
		l.logger.WarnContext(ctx, "kardex row missing on outflow", slog.Int64("product_id", in.ProductID), slog.Int64("quantity", result.Processed))
	} else {
		result.Kardex = ApplyOutflow(*current, result.Processed, now)
		if err := tx.UpsertKardex(ctx, result.Kardex); err != nil {
			return ConsumeResult{}, err
		}
	}
	if err := tx.TouchInventory(ctx, inv.ID, now); err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// Reverse books the opposite of an outflow movement: the lot item gets its
// quantity back and the kardex quantity grows at the unchanged average.
func (l *Ledger) Reverse(ctx context.Context, tx TxRepository, movementID int64) (Movement, error) {
	original, err := tx.GetMovement(ctx, movementID)
	if err != nil {
		return Movement{}, err
	}
	if original.Quantity >= 0 {
		return Movement{}, fmt.Errorf("inventory: movement %d is not an outflow", movementID)
	}
	returned := -original.Quantity
	now := l.now()

	if original.LotItemID != 0 {
		item, err := tx.GetLotItemForUpdate(ctx, original.LotItemID)
		if err != nil {
			return Movement{}, err
		}
		item.Quantity += returned
		if err := tx.UpdateLotItem(ctx, item); err != nil {
			return Movement{}, err
		}
		if err := tx.AdjustInventoryLotItem(ctx, original.InventoryID, item.ID, returned); err != nil {
			return Movement{}, err
		}
	}

	current, err := lookupKardex(ctx, tx, original.ProductID)
	if err != nil {
		return Movement{}, err
	}
	var kardex Kardex
	if current == nil {
		kardex = Kardex{ProductID: original.ProductID, Quantity: returned, AverageCost: original.UnitCost, AddedAt: now, UpdatedAt: now}
	} else {
		kardex = ApplyInflowReversal(*current, returned, now)
	}
	if err := tx.UpsertKardex(ctx, kardex); err != nil {
		return Movement{}, err
	}

	reversal := Movement{
		InventoryID: original.InventoryID,
		ProductID:   original.ProductID,
		LotItemID:   original.LotItemID,
		Type:        MovementReceipt,
		Quantity:    returned,
		UnitCost:    original.UnitCost,
		Reason:      ReasonReversal,
		CreatedAt:   now,
	}
	if reversal.ID, err = tx.InsertMovement(ctx, reversal); err != nil {
		return Movement{}, err
	}
	return reversal, nil
}

// AvailableStock sums positive lot item quantities for a product.
func (l *Ledger) AvailableStock(ctx context.Context, tx TxRepository, productID int64) (int64, error) {
	return tx.SumAvailableStock(ctx, productID)
}

func (l *Ledger) ensureInventory(ctx context.Context, tx TxRepository, in ReceiptInput) (Inventory, error) {
	inv, err := tx.GetInventoryByProduct(ctx, in.ProductID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrInventoryNotFound) {
		return Inventory{}, err
	}
	inv = Inventory{
		ProductID:    in.ProductID,
		LocationID:   in.LocationID,
		MinimumStock: in.MinimumStock,
		MaximumStock: in.MaximumStock,
	}
	if inv.ID, err = tx.InsertInventory(ctx, inv); err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// Publish reports committed movements to the observer. Callers invoke it
// after their transaction commits so rolled back attempts are never counted.
func (l *Ledger) Publish(movements ...Movement) {
	if l == nil || l.observer == nil {
		return
	}
	for _, mv := range movements {
		l.observer.MovementPosted(mv)
	}
}

func lookupKardex(ctx context.Context, tx TxRepository, productID int64) (*Kardex, error) {
	k, err := tx.GetKardexForUpdate(ctx, productID)
	if errors.Is(err, ErrKardexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}
