package procurement

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CostLine is a purchase line together with its staged package count.
type CostLine struct {
	Product ShoppingProduct
	Staged  int64
}

// CostBasis is everything the landed-cost split depends on.
type CostBasis struct {
	Shopping Shopping
	// Lines are the staged products in staging order.
	Lines []CostLine
	// PrepaidDiscount is a percentage, applied only to prepaid purchases.
	PrepaidDiscount decimal.Decimal
}

// TotalShipping converts every landed-cost charge to local currency and adds
// the commission, which is already local.
func TotalShipping(sh Shopping) decimal.Decimal {
	rate := sh.LocalRate()
	total := decimal.Zero
	for _, field := range CostFields {
		charge, ok := sh.Charges[field]
		if !ok {
			continue
		}
		total = total.Add(charge.Amount.Mul(charge.DollarRate).Mul(rate))
	}
	return total.Add(sh.Commission)
}

// NetUnitCost is the final unit cost after the prepaid discount.
func (b CostBasis) NetUnitCost(p ShoppingProduct) decimal.Decimal {
	cost := p.FinalUnitCost
	if b.Shopping.Prepaid() && !b.PrepaidDiscount.IsZero() {
		cost = cost.Mul(decimal.NewFromInt(1).Sub(b.PrepaidDiscount.Div(hundred)))
	}
	return cost
}

// merchandise prices a line without shipping.
func (b CostBasis) merchandise(line CostLine) LandedCost {
	realQty := line.Staged * line.Product.PackageSize()
	net := b.NetUnitCost(line.Product)
	amount := net.Mul(decimal.NewFromInt(realQty)).Mul(b.Shopping.MerchandiseRate())
	// the prepaid discount only shows in FinalUnitCost
	return LandedCost{
		ProductID:          line.Product.ProductID,
		ProductName:        line.Product.ProductName,
		Quantity:           line.Staged,
		RealQuantity:       realQty,
		OriginalUnitCost:   line.Product.OriginalUnitCost,
		DiscountPercentage: line.Product.DiscountPercentage,
		FinalUnitCost:      net,
		ProductAmount:      amount,
		Percentage:         decimal.Zero,
		ShippingShare:      decimal.Zero,
		LandedTotal:        amount,
	}
}

// AllocateLandedCosts splits total shipping across the staged lines in
// proportion to their merchandise amount. The last line takes 1 minus the
// other shares so the percentages add up to exactly one.
func AllocateLandedCosts(b CostBasis) []LandedCost {
	rows := make([]LandedCost, len(b.Lines))
	totalMerchandise := decimal.Zero
	for i, line := range b.Lines {
		rows[i] = b.merchandise(line)
		totalMerchandise = totalMerchandise.Add(rows[i].ProductAmount)
	}
	shipping := TotalShipping(b.Shopping)
	allocated := decimal.Zero
	last := len(rows) - 1
	for i := range rows {
		row := &rows[i]
		if !totalMerchandise.IsZero() {
			if i == last {
				row.Percentage = decimal.NewFromInt(1).Sub(allocated)
			} else {
				row.Percentage = row.ProductAmount.Div(totalMerchandise)
				allocated = allocated.Add(row.Percentage)
			}
			row.ShippingShare = shipping.Mul(row.Percentage)
			row.LandedTotal = row.ShippingShare.Add(row.ProductAmount)
		}
		row.UnitCost = unitCost(row.LandedTotal, row.RealQuantity)
	}
	return rows
}

// MerchandiseOnly prices a line that takes no part in the shipping split.
func MerchandiseOnly(b CostBasis, line CostLine) LandedCost {
	row := b.merchandise(line)
	row.UnitCost = unitCost(row.LandedTotal, row.RealQuantity)
	return row
}

func unitCost(total decimal.Decimal, realQuantity int64) decimal.Decimal {
	if realQuantity == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(realQuantity))
}
