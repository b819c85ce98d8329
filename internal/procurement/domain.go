package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/shared"
)

// ShoppingStatus mirrors shoppings.status_id.
type ShoppingStatus int16

const (
	StatusDraft     ShoppingStatus = 1
	StatusSent      ShoppingStatus = 2
	StatusConfirmed ShoppingStatus = 3
	StatusStaged    ShoppingStatus = 6
	StatusReceived  ShoppingStatus = 7
)

// PrepaidActive is the prepaid_status_id that enables the prepaid discount.
const PrepaidActive int16 = 1

// Unit of measure ids.
const (
	UnitKilogram int16 = 1
	UnitLiter    int16 = 2
	UnitPiece    int16 = 3
)

var (
	// ErrShoppingNotFound indicates missing purchase order.
	ErrShoppingNotFound = fmt.Errorf("procurement: shopping %w", shared.ErrNotFound)
	// ErrAlreadyReceived indicates goods for the purchase were already booked.
	ErrAlreadyReceived = &shared.ConflictError{Resource: "shopping", Message: "procurement: shopping already received"}
	// ErrNothingStaged indicates receiving without staged items.
	ErrNothingStaged = fmt.Errorf("procurement: no staged items: %w", shared.ErrValidation)
)

// CostField names a landed-cost column. Each one has a paired "<field>_dollar" rate column.
type CostField string

const (
	MaritimeFreight            CostField = "maritime_freight"
	MerchandiseInsurance       CostField = "merchandise_insurance"
	ManifestOpening            CostField = "manifest_opening"
	Deconsolidation            CostField = "deconsolidation"
	LandFreight                CostField = "land_freight"
	ProvisionFunds             CostField = "provision_funds"
	PortCharges                CostField = "port_charges"
	TaxExplosiveProduct        CostField = "tax_explosive_product"
	Honoraries                 CostField = "honoraries"
	PhysicalAssessmentExpenses CostField = "physical_assessment_expenses"
	AdministrativeExpenses     CostField = "administrative_expenses"
	FolderProcessing           CostField = "folder_processing"
	ValijaExpenses             CostField = "valija_expenses"
)

// CostFields lists every landed-cost column in document order.
var CostFields = []CostField{
	MaritimeFreight, MerchandiseInsurance, ManifestOpening, Deconsolidation, LandFreight,
	ProvisionFunds, PortCharges, TaxExplosiveProduct, Honoraries, PhysicalAssessmentExpenses,
	AdministrativeExpenses, FolderProcessing, ValijaExpenses,
}

// Valid reports whether f is a known landed-cost column.
func (f CostField) Valid() bool {
	for _, known := range CostFields {
		if f == known {
			return true
		}
	}
	return false
}

// Charge is a landed-cost amount in foreign currency and its dollar rate.
type Charge struct {
	Amount     decimal.Decimal `json:"amount"`
	DollarRate decimal.Decimal `json:"dollar_rate"`
}

// Shopping is the purchase order header.
type Shopping struct {
	ID              int64                `json:"id"`
	SupplierID      int64                `json:"supplier_id"`
	StatusID        ShoppingStatus       `json:"status_id"`
	PrepaidStatusID int16                `json:"prepaid_status_id"`
	ExchangeRate    decimal.Decimal      `json:"exchange_rate"`
	EuroValue       decimal.Decimal      `json:"euro_value"`
	Charges         map[CostField]Charge `json:"charges"`
	Commission      decimal.Decimal      `json:"commission"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Prepaid reports whether the prepaid discount applies.
func (s Shopping) Prepaid() bool {
	return s.PrepaidStatusID == PrepaidActive
}

// LocalRate is the exchange rate, 1 when unset.
func (s Shopping) LocalRate() decimal.Decimal {
	return orOne(s.ExchangeRate)
}

// MerchandiseRate is the euro value, 1 when unset.
func (s Shopping) MerchandiseRate() decimal.Decimal {
	return orOne(s.EuroValue)
}

// ShoppingProduct is a purchase order line joined with its unit features.
type ShoppingProduct struct {
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	UnitMeasureID      int16           `json:"unit_measure_id"`
	Quantity           int64           `json:"quantity"`
	QuantityToBuy      decimal.Decimal `json:"quantity_to_buy"`
	OriginalUnitCost   decimal.Decimal `json:"original_unit_cost"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	FinalUnitCost      decimal.Decimal `json:"final_unit_cost"`
	QuantityPerPackage int64           `json:"quantity_per_package"`
	WeightPerUnit      float64         `json:"weight_per_unit"`
	WeightPerPallet    float64         `json:"weight_per_pallet"`
}

// PackageSize is quantity per package, 1 when unset.
func (p ShoppingProduct) PackageSize() int64 {
	if p.QuantityPerPackage <= 0 {
		return 1
	}
	return p.QuantityPerPackage
}

// PreInventoryStock is a physically counted quantity waiting to be received.
type PreInventoryStock struct {
	ID         int64  `json:"id"`
	ShoppingID int64  `json:"shopping_id"`
	ProductID  int64  `json:"product_id"`
	LotNumber  string `json:"lot_number"`
	Stock      int64  `json:"stock"`
}

// StageLine is a counted quantity submitted for staging.
type StageLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Stock     int64 `json:"stock" validate:"gte=0"`
}

// StagedItem is one product handed to ReceiveGoods.
type StagedItem struct {
	ProductID        int64     `json:"product_id" validate:"required,gt=0"`
	Stock            int64     `json:"stock" validate:"gte=0"`
	LotNumber        string    `json:"lot_number" validate:"max=64"`
	ArrivalDate      time.Time `json:"arrival_date"`
	PublicSalePrice  int64     `json:"public_sale_price" validate:"gte=0"`
	PrivateSalePrice int64     `json:"private_sale_price" validate:"gte=0"`
	LocationID       int64     `json:"location_id" validate:"gte=0"`
	MinimumStock     int64     `json:"minimum_stock" validate:"gte=0"`
	MaximumStock     int64     `json:"maximum_stock" validate:"gte=0"`
}

// LandedCost is the per-product cost report row.
type LandedCost struct {
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Quantity           int64           `json:"quantity"`
	RealQuantity       int64           `json:"real_quantity"`
	OriginalUnitCost   decimal.Decimal `json:"original_unit_cost"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	FinalUnitCost      decimal.Decimal `json:"final_unit_cost"`
	ProductAmount      decimal.Decimal `json:"product_amount"`
	Percentage         decimal.Decimal `json:"percentage"`
	ShippingShare      decimal.Decimal `json:"shipping_share"`
	LandedTotal        decimal.Decimal `json:"landed_total"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
}

// LandedCostInput carries parsed landed-cost values for a purchase.
type LandedCostInput struct {
	Charges      map[CostField]Charge
	Commission   decimal.Decimal
	ExchangeRate decimal.Decimal
	EuroValue    decimal.Decimal
	ActorID      int64
}

func orOne(v decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return decimal.NewFromInt(1)
	}
	return v
}
