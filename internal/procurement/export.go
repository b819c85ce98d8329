package procurement

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	costSheet   = "Costos"
	palletSheet = "Pallets"
)

// ExportLandedCosts writes the landed-cost report and pallet estimate of a
// purchase as an XLSX workbook.
func (s *Service) ExportLandedCosts(ctx context.Context, shoppingID int64, w io.Writer) error {
	rows, err := s.LandedCostReport(ctx, shoppingID)
	if err != nil {
		return err
	}
	totals, err := s.Totals(ctx, shoppingID)
	if err != nil {
		return err
	}
	f, err := LandedCostWorkbook(rows, totals)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteTo(w)
	return err
}

// LandedCostWorkbook lays out one sheet of cost rows and one sheet of pallets.
func LandedCostWorkbook(rows []LandedCost, totals Totals) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", costSheet); err != nil {
		return nil, err
	}
	header := []any{"Producto", "Cantidad", "Cantidad real", "Costo unitario final", "Monto", "Porcentaje", "Envío", "Total", "Costo unitario"}
	if err := f.SetSheetRow(costSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, r := range rows {
		line := []any{
			r.ProductName, r.Quantity, r.RealQuantity,
			r.FinalUnitCost.InexactFloat64(), r.ProductAmount.InexactFloat64(),
			r.Percentage.InexactFloat64(), r.ShippingShare.InexactFloat64(),
			r.LandedTotal.InexactFloat64(), r.UnitCost.Round(2).InexactFloat64(),
		}
		if err := f.SetSheetRow(costSheet, fmt.Sprintf("A%d", i+2), &line); err != nil {
			return nil, err
		}
	}
	footer := []any{"Envío total", totals.TotalShippingText}
	if err := f.SetSheetRow(costSheet, fmt.Sprintf("A%d", len(rows)+3), &footer); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(palletSheet); err != nil {
		return nil, err
	}
	palletHeader := []any{"Pallet", "Capacidad", "Peso", "Contenido"}
	if err := f.SetSheetRow(palletSheet, "A1", &palletHeader); err != nil {
		return nil, err
	}
	for i, p := range totals.Pallets {
		labels := ""
		for j, c := range p.Contents {
			if j > 0 {
				labels += "; "
			}
			labels += c.Label()
		}
		line := []any{p.Number, FormatKg(p.Capacity), FormatKg(p.Weight), labels}
		if err := f.SetSheetRow(palletSheet, fmt.Sprintf("A%d", i+2), &line); err != nil {
			return nil, err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for _, sheet := range []string{costSheet, palletSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
			return nil, err
		}
	}
	return f, nil
}
