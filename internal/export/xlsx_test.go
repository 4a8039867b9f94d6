package export_test

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/orderdesk/internal/export"
	"github.com/noah-isme/orderdesk/internal/lineitem"
)

func TestWriteXLSX(t *testing.T) {
	parent := int64(7)
	items := []lineitem.Item{
		{Kind: lineitem.Consumable, Index: 1, ReferenceID: 10, Code: "ART-10", Name: "Cemento",
			Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(100), Discount: decimal.Zero},
		{Kind: lineitem.DurableAsset, Index: 1, ReferenceID: 2, Code: "ACT-2", Name: "Taladro",
			Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30), Discount: decimal.NewFromInt(40),
			ParentRequestID: &parent},
	}

	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, items))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.Equal(t, []string{export.ConsumablesSheet, export.AssetsSheet}, f.GetSheetList())

	rows, err := f.GetRows(export.ConsumablesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "Reference", rows[0][1])
	require.Equal(t, "10", rows[1][1])
	require.Equal(t, "500", rows[1][9])
	require.Equal(t, "Total", rows[2][8])
	require.Equal(t, "500", rows[2][9])

	assets, err := f.GetRows(export.AssetsSheet)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	require.Equal(t, "-10", assets[1][9])
	require.Equal(t, "7", assets[1][10])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	rows, err := f.GetRows(export.AssetsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "0", rows[1][9])
}
