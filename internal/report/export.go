package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"tokoledger/backend/internal/domain"
)

const (
	summarySheet = "Summary"
	itemsSheet   = "Items"
)

// WriteDailyClosingXLSX renders closing as a two-sheet workbook.
func WriteDailyClosingXLSX(w io.Writer, closing domain.DailyClosing) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}

	summary := [][]any{
		{"Date", closing.Date},
		{"Sales", closing.SaleCount},
		{"Purchases", closing.PurchaseCount},
		{"Revenue (cents)", closing.TotalRevenueCents},
		{"Cost of sales (cents)", closing.TotalCostCents},
		{"Profit (cents)", closing.TotalProfitCents},
		{"Purchases (cents)", closing.TotalPurchaseCents},
		{},
		{"Channel", "Sales", "Total (cents)"},
	}
	for _, channel := range closing.ByChannel {
		summary = append(summary, []any{channel.PaymentChannel, channel.Sales, channel.TotalCents})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if _, err := f.NewSheet(itemsSheet); err != nil {
		return err
	}
	rows := [][]any{{
		"Item ID", "Name", "Sold qty", "Sales", "Revenue", "Cost of sales", "Profit",
		"Avg price", "Avg cost", "Purchased qty", "Purchases", "Purchase cost", "Avg purchase cost",
	}}
	for _, item := range closing.Items {
		rows = append(rows, []any{
			item.ItemID, item.Name, item.SoldQuantity, item.SaleCount, item.RevenueCents,
			item.CostOfSalesCents, item.ProfitCents, item.AvgSellingPriceCents, item.AvgSaleCostCents,
			item.PurchasedQuantity, item.PurchaseCount, item.PurchaseCostCents, item.AvgPurchaseCostCents,
		})
	}
	if err := writeRows(f, itemsSheet, rows); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
