package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundCost rounds a currency amount to whole units, half to even.
func RoundCost(v decimal.Decimal) int64 {
	return v.RoundBank(0).IntPart()
}

// ApplyReceipt folds an inflow into the weighted average. current is nil
// when the product has no kardex row yet.
func ApplyReceipt(current *Kardex, productID, qty int64, unitCost decimal.Decimal, now time.Time) Kardex {
	if current == nil {
		return Kardex{
			ProductID:   productID,
			Quantity:    qty,
			AverageCost: RoundCost(unitCost),
			AddedAt:     now,
			UpdatedAt:   now,
		}
	}
	next := *current
	next.Quantity = current.Quantity + qty
	if next.Quantity > 0 {
		held := decimal.NewFromInt(current.Quantity).Mul(decimal.NewFromInt(current.AverageCost))
		received := decimal.NewFromInt(qty).Mul(unitCost)
		next.AverageCost = RoundCost(held.Add(received).Div(decimal.NewFromInt(next.Quantity)))
	} else {
		next.AverageCost = RoundCost(unitCost)
	}
	next.UpdatedAt = now
	return next
}

// ApplyOutflow removes quantity, never below zero. The average cost is kept.
func ApplyOutflow(current Kardex, qty int64, now time.Time) Kardex {
	next := current
	next.Quantity = current.Quantity - qty
	if next.Quantity < 0 {
		next.Quantity = 0
	}
	next.UpdatedAt = now
	return next
}

// ApplyInflowReversal returns quantity that previously left at the current average.
func ApplyInflowReversal(current Kardex, qty int64, now time.Time) Kardex {
	next := current
	next.Quantity = current.Quantity + qty
	next.UpdatedAt = now
	return next
}
