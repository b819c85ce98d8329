package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const kardexSheet = "Kardex"

// ExportKardex writes every kardex row as an XLSX workbook.
func (s *Service) ExportKardex(ctx context.Context, w io.Writer) error {
	entries, err := s.repo.AllKardex(ctx)
	if err != nil {
		return err
	}
	f, err := KardexWorkbook(entries)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteTo(w)
	return err
}

// KardexWorkbook lays kardex rows out with a trailing totals row.
func KardexWorkbook(entries []KardexEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", kardexSheet); err != nil {
		return nil, err
	}
	header := []any{"Producto ID", "Producto", "Cantidad", "Costo promedio", "Valor total", "Actualizado"}
	if err := f.SetSheetRow(kardexSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, e := range entries {
		row := []any{e.ProductID, e.ProductName, e.Quantity, e.AverageCost, e.Quantity * e.AverageCost, e.UpdatedAt.Format("2006-01-02 15:04")}
		if err := f.SetSheetRow(kardexSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	summary := Summarize(entries)
	totals := []any{"", "Total", summary.TotalQuantity, summary.AverageCostOverall, summary.TotalValue}
	if err := f.SetSheetRow(kardexSheet, fmt.Sprintf("A%d", len(entries)+2), &totals); err != nil {
		return nil, err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(kardexSheet, 1, 1, style); err != nil {
		return nil, err
	}
	return f, nil
}
