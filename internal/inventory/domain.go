package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/shared"
)

// MovementType enumerates inventory_movements.movement_type_id values.
type MovementType int16

const (
	// MovementReceipt is goods received from a purchase (or a sale reversal).
	MovementReceipt MovementType = 1
	// MovementSale is stock leaving through a sale.
	MovementSale MovementType = 2
	// MovementAdjustmentOut is a manual removal.
	MovementAdjustmentOut MovementType = 3
	// MovementAdjustmentIn is a manual addition.
	MovementAdjustmentIn MovementType = 4
)

func (t MovementType) String() string {
	switch t {
	case MovementReceipt:
		return "receipt"
	case MovementSale:
		return "sale"
	case MovementAdjustmentOut:
		return "adjustment_out"
	case MovementAdjustmentIn:
		return "adjustment_in"
	default:
		return fmt.Sprintf("movement(%d)", int16(t))
	}
}

// Inflow reports whether the type adds stock.
func (t MovementType) Inflow() bool {
	return t == MovementReceipt || t == MovementAdjustmentIn
}

// Movement reasons written to the ledger.
const (
	ReasonReceipt       = "Agregado producto al inventario."
	ReasonSale          = "Venta"
	ReasonReversal      = "reversal"
	ReasonAdjustmentIn  = "Ajuste de inventario (ingreso)"
	ReasonAdjustmentOut = "Ajuste de inventario (salida)"
)

var (
	// ErrInvalidQuantity indicates non-positive quantities.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrInvalidUnitCost indicates negative unit cost.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must not be negative: %w", shared.ErrValidation)
	// ErrInventoryNotFound indicates the product has no inventory row.
	ErrInventoryNotFound = fmt.Errorf("inventory: inventory record %w", shared.ErrNotFound)
	// ErrLotNotFound indicates missing lot.
	ErrLotNotFound = fmt.Errorf("inventory: lot %w", shared.ErrNotFound)
	// ErrLotItemNotFound indicates missing lot item.
	ErrLotItemNotFound = fmt.Errorf("inventory: lot item %w", shared.ErrNotFound)
	// ErrKardexNotFound indicates the product never received stock.
	ErrKardexNotFound = fmt.Errorf("inventory: kardex record %w", shared.ErrNotFound)
	// ErrMovementNotFound indicates missing movement.
	ErrMovementNotFound = fmt.Errorf("inventory: movement %w", shared.ErrNotFound)
	// ErrInsufficientStock indicates lots ran out before the request was covered.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient lot stock: %w", shared.ErrValidation)
)

// Inventory is the per-product stock header.
type Inventory struct {
	ID           int64
	ProductID    int64
	ProductName  string
	LocationID   int64
	MinimumStock int64
	MaximumStock int64
	UpdatedAt    time.Time
}

// Lot is a physical receipt batch.
type Lot struct {
	ID          int64
	SupplierID  int64
	LotNumber   string
	ArrivalDate time.Time
}

// LotItem holds the stock of one product inside a lot.
type LotItem struct {
	ID               int64
	LotID            int64
	ProductID        int64
	Quantity         int64
	UnitCost         int64
	PublicSalePrice  int64
	PrivateSalePrice int64

	LotNumber   string
	ArrivalDate time.Time
}

// Movement is an append-only ledger row.
type Movement struct {
	ID          int64        `json:"id"`
	InventoryID int64        `json:"inventory_id"`
	ProductID   int64        `json:"product_id"`
	LotItemID   int64        `json:"lot_item_id"`
	Type        MovementType `json:"movement_type_id"`
	Quantity    int64        `json:"quantity"`
	UnitCost    int64        `json:"unit_cost"`
	Reason      string       `json:"reason"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Kardex is the running weighted-average record of a product.
type Kardex struct {
	ProductID   int64
	Quantity    int64
	AverageCost int64
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// TotalValue is quantity times average cost.
func (k Kardex) TotalValue() int64 {
	return k.Quantity * k.AverageCost
}

// KardexEntry is a listing row with the product name.
type KardexEntry struct {
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int64     `json:"quantity"`
	AverageCost int64     `json:"average_cost"`
	TotalValue  int64     `json:"total_value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KardexSummary aggregates all kardex rows.
type KardexSummary struct {
	TotalProducts      int   `json:"total_products"`
	TotalQuantity      int64 `json:"total_quantity"`
	TotalValue         int64 `json:"total_value"`
	AverageCostOverall int64 `json:"average_cost_overall"`
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// StockDrift reports a product whose lot stock disagrees with its kardex.
type StockDrift struct {
	ProductID      int64 `json:"product_id"`
	KardexQuantity int64 `json:"kardex_quantity"`
	LotQuantity    int64 `json:"lot_quantity"`
}

// Difference is kardex minus lot stock.
func (d StockDrift) Difference() int64 {
	return d.KardexQuantity - d.LotQuantity
}

// ReceiptInput describes stock entering a lot.
type ReceiptInput struct {
	ProductID        int64
	SupplierID       int64
	LotNumber        string
	ArrivalDate      time.Time
	Quantity         int64
	UnitCost         decimal.Decimal
	PublicSalePrice  int64
	PrivateSalePrice int64
	LocationID       int64
	MinimumStock     int64
	MaximumStock     int64
	Type             MovementType
	Reason           string
}

// ReceiptResult identifies the rows touched by a receipt.
type ReceiptResult struct {
	ProductID   int64    `json:"product_id"`
	InventoryID int64    `json:"inventory_id"`
	LotID       int64    `json:"lot_id"`
	LotItemID   int64    `json:"lot_item_id"`
	MovementID  int64    `json:"movement_id"`
	Kardex      Kardex   `json:"-"`
	Movement    Movement `json:"-"`
}

// ConsumeInput describes stock leaving lots.
type ConsumeInput struct {
	ProductID  int64
	Quantity   int64
	LotNumbers []string
	Type       MovementType
	Reason     string
}

// Consumption is a single draw from one lot item.
type Consumption struct {
	LotItem  LotItem
	Taken    int64
	Movement Movement
}

// ConsumeResult reports what a FIFO draw did.
type ConsumeResult struct {
	ProductID    int64
	InventoryID  int64
	Requested    int64
	Processed    int64
	AverageCost  int64
	KardexFound  bool
	Kardex       Kardex
	Consumptions []Consumption
}

// Movements returns the outflow movements written by the draw.
func (r ConsumeResult) Movements() []Movement {
	out := make([]Movement, 0, len(r.Consumptions))
	for _, c := range r.Consumptions {
		out = append(out, c.Movement)
	}
	return out
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ProductID        int64           `json:"product_id" validate:"required,gt=0"`
	SupplierID       int64           `json:"supplier_id"`
	Quantity         int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	LotNumber        string          `json:"lot_number"`
	PublicSalePrice  int64           `json:"public_sale_price" validate:"gte=0"`
	PrivateSalePrice int64           `json:"private_sale_price" validate:"gte=0"`
	Reason           string          `json:"reason"`
	ActorID          int64           `json:"-"`
}

// RemovalInput describes a manual stock removal.
type RemovalInput struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason"`
	ActorID   int64  `json:"-"`
}
