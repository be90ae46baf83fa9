package store

import (
	"fmt"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
)

// ApplyPurchasePatch edits the mutable fields of an active purchase in place.
// Quantity and cost are fixed once the lot exists. The purchase date orders
// the lot for FIFO and LIFO, so it is fixed once any unit has been sold.
func ApplyPurchasePatch(purchase *domain.PurchaseRecord, patch domain.PurchaseUpdateRequest, now time.Time) error {
	if !purchase.Active {
		return Errorf(ErrInactiveEntity, "purchase "+purchase.ID+" is deleted")
	}
	if patch.Quantity != nil && *patch.Quantity != purchase.Quantity {
		return Errorf(ErrInvalidInput, "purchase quantity is immutable")
	}
	if patch.CostPerUnitCents != nil && *patch.CostPerUnitCents != purchase.CostPerUnitCents {
		return Errorf(ErrInvalidInput, "purchase cost is immutable")
	}
	if patch.PurchasedAt != nil && !patch.PurchasedAt.IsZero() && !patch.PurchasedAt.Equal(purchase.PurchasedAt) {
		if purchase.Remaining != purchase.Quantity {
			return Errorf(ErrInvalidInput, "purchase date is fixed once stock has been sold")
		}
		purchase.PurchasedAt = patch.PurchasedAt.UTC()
	}
	if patch.Supplier != nil {
		purchase.Supplier = strings.TrimSpace(*patch.Supplier)
	}
	if patch.Notes != nil {
		purchase.Notes = strings.TrimSpace(*patch.Notes)
	}
	purchase.RecomputeTotal()
	purchase.UpdatedAt = now
	return nil
}

// ApplySalePatch edits price, channel and notes of an active sale in place and
// recomputes its totals. The stock effect of a sale is never re-applied.
func ApplySalePatch(sale *domain.SaleRecord, patch domain.SaleUpdateRequest, now time.Time) error {
	if !sale.Active {
		return Errorf(ErrInactiveEntity, "sale "+sale.ID+" is deleted")
	}
	if patch.ItemID != nil && *patch.ItemID != sale.ItemID {
		return Errorf(ErrInvalidInput, "sale item is immutable")
	}
	if patch.Quantity != nil && *patch.Quantity != sale.Quantity {
		return Errorf(ErrInvalidInput, "sale quantity is immutable")
	}
	if patch.PricePerUnitCents != nil {
		if *patch.PricePerUnitCents < 0 {
			return ErrInvalidInput
		}
		sale.PricePerUnitCents = *patch.PricePerUnitCents
	}
	if patch.PaymentChannel != nil {
		sale.PaymentChannel = *patch.PaymentChannel
	}
	if patch.Notes != nil {
		sale.Notes = strings.TrimSpace(*patch.Notes)
	}
	sale.RecomputeTotals()
	sale.UpdatedAt = now
	return nil
}

// CheckTransferCovered refuses a change that would leave the day's saved
// transfer larger than its sales.
func CheckTransferCovered(date string, transferredCents int64, salesCents int64) error {
	if transferredCents > salesCents {
		return Errorf(ErrTransferExceedsSales, fmt.Sprintf("transfer for %s is %d but sales would drop to %d", date, transferredCents, salesCents))
	}
	return nil
}
