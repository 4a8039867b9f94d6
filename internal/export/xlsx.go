package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/pricing"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names, one per kind.
const (
	ConsumablesSheet = "Consumables"
	AssetsSheet      = "Assets"
)

var headers = []string{"#", "Reference", "Code", "Name", "Category", "Unit", "Quantity", "Unit price", "Discount", "Subtotal", "Request"}

// WriteXLSX renders the lines of a form as a workbook with one sheet per
// kind, each closed by a total row.
func WriteXLSX(w io.Writer, items []lineitem.Item) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	summary := pricing.Totals(items)
	for _, kind := range lineitem.Kinds() {
		name := sheetName(kind)
		idx, err := f.NewSheet(name)
		if err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
		if kind == lineitem.Consumable {
			f.SetActiveSheet(idx)
		}
		if err := writeSheet(f, name, headerStyle, items, kind, summary.For(kind).InexactFloat64()); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, items []lineitem.Item, kind lineitem.Kind, total float64) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	row := 2
	for _, it := range items {
		if it.Kind != kind {
			continue
		}
		var request any
		if it.ParentRequestID != nil {
			request = *it.ParentRequestID
		}
		values := []any{
			it.Index, it.ReferenceID, it.Code, it.Name, it.Category, it.Unit,
			it.Quantity.InexactFloat64(), it.UnitPrice.InexactFloat64(), it.Discount.InexactFloat64(),
			pricing.LineSubtotal(it).InexactFloat64(), request,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, row, err)
		}
		row++
	}

	labelCell, _ := excelize.CoordinatesToCellName(len(headers)-2, row)
	totalCell, _ := excelize.CoordinatesToCellName(len(headers)-1, row)
	if err := f.SetCellValue(sheet, labelCell, "Total"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, totalCell, total); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, labelCell, totalCell, headerStyle); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", "K", 15)
}

func sheetName(kind lineitem.Kind) string {
	if kind == lineitem.DurableAsset {
		return AssetsSheet
	}
	return ConsumablesSheet
}
