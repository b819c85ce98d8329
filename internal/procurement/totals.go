package procurement

import (
	"github.com/shopspring/decimal"
)

// Totals is the purchase order summary shown on purchase documents.
type Totals struct {
	TotalKg              decimal.Decimal `json:"total_kg"`
	TotalLiters          decimal.Decimal `json:"total_lts"`
	TotalUnits           decimal.Decimal `json:"total_und"`
	TotalShippingKg      float64         `json:"total_shipping_kg"`
	TotalPallets         int             `json:"total_pallets"`
	Pallets              []Pallet        `json:"pallets"`
	TotalWithoutDiscount decimal.Decimal `json:"total_without_discount"`
	TotalWithDiscount    decimal.Decimal `json:"total_with_discount"`
	PrepaidApplied       bool            `json:"prepaid_applied"`
	TotalShipping        decimal.Decimal `json:"total_shipping"`
	TotalShippingText    string          `json:"total_shipping_text"`
}

// ComputeTotals sums quantities by unit of measure, estimates pallets from
// line weights and totals the order with and without the prepaid discount.
func ComputeTotals(sh Shopping, lines []ShoppingProduct, prepaidDiscount decimal.Decimal) Totals {
	t := Totals{
		TotalKg:              decimal.Zero,
		TotalLiters:          decimal.Zero,
		TotalUnits:           decimal.Zero,
		TotalWithoutDiscount: decimal.Zero,
	}
	loads := make([]PalletLoad, 0, len(lines))
	for _, line := range lines {
		switch line.UnitMeasureID {
		case UnitKilogram:
			t.TotalKg = t.TotalKg.Add(line.QuantityToBuy)
		case UnitLiter:
			t.TotalLiters = t.TotalLiters.Add(line.QuantityToBuy)
		case UnitPiece:
			t.TotalUnits = t.TotalUnits.Add(line.QuantityToBuy)
		}
		qty := line.QuantityToBuy.InexactFloat64()
		weight := line.WeightPerUnit * qty
		t.TotalShippingKg += weight
		loads = append(loads, PalletLoad{Name: line.ProductName, TotalWeight: weight, WeightPerPallet: line.WeightPerPallet})
		t.TotalWithoutDiscount = t.TotalWithoutDiscount.Add(line.FinalUnitCost.Mul(line.QuantityToBuy))
	}
	t.Pallets = PackPallets(loads)
	t.TotalPallets = len(t.Pallets)
	t.TotalWithDiscount = t.TotalWithoutDiscount
	if sh.Prepaid() && !prepaidDiscount.IsZero() {
		t.PrepaidApplied = true
		t.TotalWithDiscount = t.TotalWithoutDiscount.Mul(decimal.NewFromInt(1).Sub(prepaidDiscount.Div(hundred)))
	}
	t.TotalShipping = TotalShipping(sh)
	t.TotalShippingText = FormatCLP(t.TotalShipping)
	return t
}
