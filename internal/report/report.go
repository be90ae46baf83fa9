// Package report derives read-only views from ledger records. Callers fetch
// the records; these functions only group and sum them.
package report

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
)

const DateLayout = "2006-01-02"

// DayBounds returns the first and last instant of the local calendar day
// containing day. Both ends are inclusive.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

func InventorySnapshot(items []domain.Item, lotsByItem map[string][]domain.CostLot, now time.Time) domain.InventorySnapshot {
	snapshot := domain.InventorySnapshot{
		GeneratedAt: now.UTC(),
		Items:       make([]domain.InventoryRow, 0, len(items)),
	}

	for _, item := range items {
		if !item.Active {
			continue
		}
		lots := lotsByItem[item.ID]
		row := domain.InventoryRow{
			ItemID:         item.ID,
			Name:           item.Name,
			CategoryID:     item.CategoryID,
			CurrentStock:   ledger.CurrentStock(lots),
			MinStockLevel:  item.MinStockLevel,
			CostBasisCents: ledger.CostBasis(lots),
			LastCostCents:  item.LastCostCents,
			PurchaseCount:  len(lots),
		}
		for _, lot := range lots {
			if row.LastPurchaseAt == nil || lot.PurchasedAt.After(*row.LastPurchaseAt) {
				at := lot.PurchasedAt.UTC()
				row.LastPurchaseAt = &at
			}
		}
		row.LowStock = row.CurrentStock < row.MinStockLevel
		row.OutOfStock = row.CurrentStock == 0

		snapshot.Items = append(snapshot.Items, row)
		snapshot.TotalCostBasisCents += row.CostBasisCents
		if row.LowStock {
			snapshot.LowStockItems++
		}
		if row.OutOfStock {
			snapshot.OutOfStockItems++
		}
	}

	slices.SortFunc(snapshot.Items, func(a, b domain.InventoryRow) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	snapshot.TotalItems = len(snapshot.Items)
	return snapshot
}

// DailyClosing groups the day's active sales and purchases by item.
func DailyClosing(day time.Time, loc *time.Location, items []domain.Item, sales []domain.SaleRecord, purchases []domain.PurchaseRecord) domain.DailyClosing {
	start, end := DayBounds(day, loc)
	names := itemNames(items)

	closing := domain.DailyClosing{Date: start.Format(DateLayout)}
	groups := make(map[string]*domain.ClosingItem)
	group := func(itemID string) *domain.ClosingItem {
		g, ok := groups[itemID]
		if !ok {
			g = &domain.ClosingItem{ItemID: itemID, Name: names[itemID]}
			groups[itemID] = g
		}
		return g
	}

	channels := make(map[string]*domain.ChannelTotal, len(domain.PaymentChannels))
	for _, channel := range domain.PaymentChannels {
		channels[channel] = &domain.ChannelTotal{PaymentChannel: channel}
	}

	for _, sale := range sales {
		if !sale.Active || !inDay(sale.SoldAt, start, end) {
			continue
		}
		g := group(sale.ItemID)
		g.SoldQuantity += sale.Quantity
		g.SaleCount++
		g.RevenueCents += sale.TotalCents
		g.CostOfSalesCents += sale.CostTotalCents
		g.ProfitCents += sale.ProfitCents

		closing.SaleCount++
		closing.TotalRevenueCents += sale.TotalCents
		closing.TotalCostCents += sale.CostTotalCents
		closing.TotalProfitCents += sale.ProfitCents

		channel, ok := channels[sale.PaymentChannel]
		if !ok {
			channel = &domain.ChannelTotal{PaymentChannel: sale.PaymentChannel}
			channels[sale.PaymentChannel] = channel
		}
		channel.Sales++
		channel.TotalCents += sale.TotalCents
	}

	for _, purchase := range purchases {
		if !purchase.Active || !inDay(purchase.PurchasedAt, start, end) {
			continue
		}
		g := group(purchase.ItemID)
		g.PurchasedQuantity += purchase.Quantity
		g.PurchaseCount++
		g.PurchaseCostCents += purchase.TotalCostCents

		closing.PurchaseCount++
		closing.TotalPurchaseCents += purchase.TotalCostCents
	}

	closing.Items = make([]domain.ClosingItem, 0, len(groups))
	for _, g := range groups {
		g.AvgSellingPriceCents = AverageCents(g.RevenueCents, g.SoldQuantity)
		g.AvgSaleCostCents = AverageCents(g.CostOfSalesCents, g.SoldQuantity)
		g.AvgPurchaseCostCents = AverageCents(g.PurchaseCostCents, g.PurchasedQuantity)
		closing.Items = append(closing.Items, *g)
	}
	slices.SortFunc(closing.Items, func(a, b domain.ClosingItem) int {
		if a.RevenueCents != b.RevenueCents {
			if a.RevenueCents > b.RevenueCents {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})

	closing.ByChannel = make([]domain.ChannelTotal, 0, len(channels))
	for _, channel := range domain.PaymentChannels {
		closing.ByChannel = append(closing.ByChannel, *channels[channel])
		delete(channels, channel)
	}
	extra := make([]string, 0, len(channels))
	for channel := range channels {
		extra = append(extra, channel)
	}
	slices.Sort(extra)
	for _, channel := range extra {
		closing.ByChannel = append(closing.ByChannel, *channels[channel])
	}

	return closing
}

// ProductSales groups active sales by item using each sale's recorded cost.
func ProductSales(items []domain.Item, sales []domain.SaleRecord, from string, to string) domain.ProductSalesReport {
	names := itemNames(items)
	rows := make(map[string]*domain.ProductSalesRow)

	out := domain.ProductSalesReport{From: from, To: to}
	for _, sale := range sales {
		if !sale.Active {
			continue
		}
		row, ok := rows[sale.ItemID]
		if !ok {
			row = &domain.ProductSalesRow{ItemID: sale.ItemID, Name: names[sale.ItemID]}
			rows[sale.ItemID] = row
		}
		row.Quantity += sale.Quantity
		row.SaleCount++
		row.RevenueCents += sale.TotalCents
		row.CostCents += sale.CostTotalCents

		out.TotalQuantity += sale.Quantity
		out.RevenueCents += sale.TotalCents
		out.CostCents += sale.CostTotalCents
	}

	out.Products = make([]domain.ProductSalesRow, 0, len(rows))
	for _, row := range rows {
		row.ProfitCents = row.RevenueCents - row.CostCents
		row.MarginPercent = MarginPercent(row.ProfitCents, row.RevenueCents)
		out.Products = append(out.Products, *row)
	}
	slices.SortFunc(out.Products, func(a, b domain.ProductSalesRow) int {
		if a.RevenueCents != b.RevenueCents {
			if a.RevenueCents > b.RevenueCents {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})

	out.ProfitCents = out.RevenueCents - out.CostCents
	out.MarginPercent = MarginPercent(out.ProfitCents, out.RevenueCents)
	return out
}

// TotalSales sums the revenue of active sales.
func TotalSales(sales []domain.SaleRecord) int64 {
	var total int64
	for _, sale := range sales {
		if sale.Active {
			total += sale.TotalCents
		}
	}
	return total
}

func Reconcile(date string, transfer domain.DailyTransfer, totalSalesCents int64) domain.TransferReconciliation {
	transfer.Date = date
	transfer.RecomputeTotal()
	return domain.TransferReconciliation{
		Date:            date,
		Transfer:        transfer,
		TotalSalesCents: totalSalesCents,
		RemainingCents:  totalSalesCents - transfer.TotalCents,
	}
}

// AverageCents is amount/qty rounded half up; zero when qty is zero.
func AverageCents(amountCents int64, qty int) int64 {
	if qty == 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Div(decimal.NewFromInt(int64(qty))).
		Round(0).
		IntPart()
}

// MarginPercent is profit/revenue*100 with two decimals; zero when revenue
// is zero.
func MarginPercent(profitCents int64, revenueCents int64) float64 {
	if revenueCents == 0 {
		return 0
	}
	margin, _ := decimal.NewFromInt(profitCents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(revenueCents)).
		Round(2).
		Float64()
	return margin
}

func inDay(t time.Time, start time.Time, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func itemNames(items []domain.Item) map[string]string {
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}
	return names
}
