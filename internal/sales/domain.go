package sales

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/shared"
)

// Status mirrors sales.status_id.
type Status int16

const (
	StatusPending         Status = 1
	StatusPaymentAccepted Status = 2
	StatusPaymentRejected Status = 3
	StatusDelivered       Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaymentAccepted:
		return "payment_accepted"
	case StatusPaymentRejected:
		return "payment_rejected"
	case StatusDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// Role is the role of the user placing the sale.
type Role int16

const (
	RoleAdmin    Role = 1
	RoleSeller   Role = 2
	RoleCustomer Role = 5
)

// Privileged roles buy at kardex cost.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSeller
}

// ShippingMethod mirrors sales.shipping_method_id.
type ShippingMethod int16

const (
	ShippingPickup   ShippingMethod = 1
	ShippingDelivery ShippingMethod = 2
)

var (
	// ErrSaleNotFound indicates missing sale.
	ErrSaleNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
	// ErrSaleLocked is returned when another request holds the sale row.
	ErrSaleLocked = &shared.ConflictError{Resource: "sale", Message: "La venta está siendo procesada. Intente nuevamente en unos segundos."}
	// ErrAlreadyInStatus indicates a repeated status change.
	ErrAlreadyInStatus = &shared.ConflictError{Resource: "sale", Message: "La venta ya está en este estado"}
	// ErrInvalidTransition indicates a status change the sale cannot take.
	ErrInvalidTransition = fmt.Errorf("sales: invalid status transition: %w", shared.ErrValidation)
	// ErrEmptyCart indicates an order without valid lines.
	ErrEmptyCart = fmt.Errorf("sales: cart is empty: %w", shared.ErrValidation)
)

// Sale is the sale header.
type Sale struct {
	ID              int64          `json:"id"`
	CustomerID      int64          `json:"customer_id"`
	Role            Role           `json:"rol_id"`
	PrivatePricing  bool           `json:"private_pricing"`
	ShippingMethod  ShippingMethod `json:"shipping_method_id"`
	DocumentTypeID  int64          `json:"dte_type_id"`
	Status          Status         `json:"status_id"`
	Subtotal        int64          `json:"subtotal"`
	Tax             int64          `json:"tax"`
	ShippingCost    int64          `json:"shipping_cost"`
	Total           int64          `json:"total"`
	DeliveryAddress string         `json:"delivery_address"`
	AddedAt         time.Time      `json:"added_date"`
	UpdatedAt       time.Time      `json:"updated_date"`
}

// SaleProduct is a sale line. Pending lines have no movement yet; fulfilled
// lines point at the lot item and movement they consumed.
type SaleProduct struct {
	ID          int64    `json:"id"`
	SaleID      int64    `json:"sale_id"`
	ProductID   int64    `json:"product_id"`
	MovementID  int64    `json:"inventory_movement_id,omitempty"`
	InventoryID int64    `json:"inventory_id,omitempty"`
	LotItemID   int64    `json:"lot_item_id,omitempty"`
	Quantity    int64    `json:"quantity"`
	Price       int64    `json:"price"`
	LotNumbers  []string `json:"lot_numbers,omitempty"`
}

// Pending reports whether the line still waits for stock.
func (p SaleProduct) Pending() bool {
	return p.MovementID == 0
}

// CartLine is a requested product. Prices are the ones shown to the buyer.
type CartLine struct {
	ProductID        int64    `json:"id" validate:"required,gt=0"`
	Quantity         int64    `json:"quantity" validate:"required,gt=0"`
	LotNumbers       []string `json:"lot_numbers" validate:"omitempty,dive,required,max=64"`
	PublicSalePrice  int64    `json:"public_sale_price" validate:"gte=0"`
	PrivateSalePrice int64    `json:"private_sale_price" validate:"gte=0"`
}

// OrderInput is a checkout request.
type OrderInput struct {
	CustomerID      int64
	Role            Role
	PrivatePricing  bool
	ShippingMethod  ShippingMethod
	DocumentTypeID  int64
	DeliveryAddress string
	Lines           []CartLine
}

// KardexDelta is the kardex effect of one fulfilled line.
type KardexDelta struct {
	ProductID   int64 `json:"product_id"`
	Processed   int64 `json:"processed"`
	Quantity    int64 `json:"quantity"`
	AverageCost int64 `json:"average_cost"`
}

// FulfillmentResult lists the sale rows written and their kardex effect.
type FulfillmentResult struct {
	ProcessedLines []SaleProduct        `json:"processed_lines"`
	KardexDeltas   []KardexDelta        `json:"kardex_deltas"`
	Movements      []inventory.Movement `json:"-"`
}

// Shortage describes why a cart line cannot be served.
type Shortage struct {
	ProductID   int64
	ProductName string
	Available   int64
	Requested   int64
	Minimum     int64
	Missing     bool
}

func (s Shortage) String() string {
	switch {
	case s.Missing:
		return fmt.Sprintf("Producto %d no encontrado", s.ProductID)
	case s.Available < s.Requested:
		return fmt.Sprintf("%s (disponible: %d, solicitado: %d)", s.ProductName, s.Available, s.Requested)
	default:
		return fmt.Sprintf("%s (quedaría %d, mínimo requerido: %d)", s.ProductName, s.Available-s.Requested, s.Minimum)
	}
}

// StockError aggregates every cart line that fails the stock check.
type StockError struct {
	Shortages []Shortage
}

func (e *StockError) Error() string {
	return "Stock insuficiente para los productos: " + strings.Join(e.problems(), ", ")
}

// Unwrap exposes the shortages as a validation error.
func (e *StockError) Unwrap() error {
	return shared.NewValidationError(e.problems()...)
}

func (e *StockError) problems() []string {
	out := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		out = append(out, s.String())
	}
	return out
}

// IsStockError reports whether err carries stock shortages.
func IsStockError(err error) bool {
	var serr *StockError
	return errors.As(err, &serr)
}

// Notification is the payload handed to the notifier after a status change.
type Notification struct {
	SaleID     int64  `json:"sale_id"`
	CustomerID int64  `json:"customer_id"`
	Status     Status `json:"status_id"`
	Total      int64  `json:"total"`
}

// priceFor applies the pricing rule: a seller in private mode pays the lot's
// private price, privileged roles pay the kardex average, everyone else the
// lot's public price.
func priceFor(role Role, private bool, averageCost int64, item inventory.LotItem) int64 {
	switch {
	case role == RoleSeller && private:
		return item.PrivateSalePrice
	case role.Privileged():
		return averageCost
	default:
		return item.PublicSalePrice
	}
}
