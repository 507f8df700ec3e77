package export

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/tradedocs/models"
	"github.com/xuri/excelize/v2"
)

const SheetName = "Register"

var registerHeadings = []string{
	"Document Number", "Type", "Status", "Converted", "Date", "Counterparty",
	"Category", "Product", "Quantity", "Weight", "Estimated Value", "Remarks",
}

// Names supplies display names for the register. Missing names fall back to ids.
type Names struct {
	Counterparties map[int64]string
	Categories     map[int64]string
	Products       map[int64]string
}

func nameOr(names map[int64]string, id int64) any {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

// WriteRegister writes one row per line item and a totals row after each document.
func WriteRegister(w io.Writer, docs []models.TradeDocument, names Names) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	for i, h := range registerHeadings {
		if err := f.SetCellValue(SheetName, cell(i, 1), h); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	_ = f.SetRowStyle(SheetName, 1, 1, bold)

	row := 2
	for _, d := range docs {
		for _, item := range d.LineItems {
			values := []any{
				d.DocumentNumber,
				d.Type.Label(),
				string(d.Status),
				d.Converted,
				d.DocumentDate.Format("2006-01-02"),
				nameOr(names.Counterparties, d.CounterpartyId),
				nameOr(names.Categories, item.CategoryId),
				nameOr(names.Products, item.ProductId),
				item.Quantity.InexactFloat64(),
				item.Weight.InexactFloat64(),
				item.EstimatedValue.InexactFloat64(),
				item.Remarks,
			}
			if err := setRow(f, row, values); err != nil {
				return err
			}
			row++
		}

		totals := d.Totals()
		totalRow := []any{
			d.DocumentNumber, "", "", "", "", "",
			fmt.Sprintf("Total (%d items)", totals.ItemCount), "", "",
			totals.TotalWeight.InexactFloat64(),
			totals.TotalValue.InexactFloat64(),
			"",
		}
		if err := setRow(f, row, totalRow); err != nil {
			return err
		}
		_ = f.SetRowStyle(SheetName, row, row, bold)
		row++
	}

	_, err = f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, row int, values []any) error {
	for col, v := range values {
		if v == "" {
			continue
		}
		if err := f.SetCellValue(SheetName, cell(col, row), v); err != nil {
			return err
		}
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
