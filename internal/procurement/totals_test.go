package procurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotals(t *testing.T) {
	sh := sampleShopping()
	sh.PrepaidStatusID = PrepaidActive
	lines := []ShoppingProduct{
		{ProductName: "Resina", UnitMeasureID: UnitKilogram, QuantityToBuy: dec("800"), FinalUnitCost: dec("2.5"), WeightPerUnit: 1, WeightPerPallet: 1000},
		{ProductName: "Solvente", UnitMeasureID: UnitLiter, QuantityToBuy: dec("400"), FinalUnitCost: dec("5"), WeightPerUnit: 0.9, WeightPerPallet: 600},
		{ProductName: "Pernos", UnitMeasureID: UnitPiece, QuantityToBuy: dec("50"), FinalUnitCost: dec("1"), WeightPerUnit: 0.2},
	}

	totals := ComputeTotals(sh, lines, dec("10"))
	require.True(t, totals.TotalKg.Equal(dec("800")))
	require.True(t, totals.TotalLiters.Equal(dec("400")))
	require.True(t, totals.TotalUnits.Equal(dec("50")))
	require.InDelta(t, 1170.0, totals.TotalShippingKg, 1e-9)
	require.Equal(t, 2, totals.TotalPallets)
	require.True(t, totals.TotalWithoutDiscount.Equal(dec("4050")))
	require.True(t, totals.PrepaidApplied)
	require.True(t, totals.TotalWithDiscount.Equal(dec("3645")))
	require.True(t, totals.TotalShipping.Equal(dec("149000")))
	require.Equal(t, "$149.000", totals.TotalShippingText)
}

func TestFormatCLP(t *testing.T) {
	require.Equal(t, "$1.234.567", FormatCLP(dec("1234567.4")))
	require.Equal(t, "$0", FormatCLP(dec("0")))
}
