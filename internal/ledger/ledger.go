// Package ledger holds the stock accounting rules for an item's cost lots.
//
// Every function here is pure: callers pass the item's lots, get back
// allocations or a new lot slice, and persist the result inside their own
// atomic unit. Nothing in this package touches storage.
package ledger

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// Policy selects how sales pick lots.
type Policy int

const (
	// LIFO takes from the most recently purchased lots first. A cost pin
	// supplied with a sale is still honored.
	LIFO Policy = iota
	// CostPinned requires every sale to name the unit cost it draws from and
	// only deducts from lots with exactly that cost.
	CostPinned
)

func (p Policy) String() string {
	switch p {
	case LIFO:
		return "lifo"
	case CostPinned:
		return "cost-pinned"
	default:
		return "unknown"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lifo":
		return LIFO, nil
	case "cost-pinned", "cost_pinned", "pinned":
		return CostPinned, nil
	default:
		return 0, fmt.Errorf("unknown lot policy: %q", s)
	}
}

type Options struct {
	// PinnedCostCents restricts reservation to lots with this unit cost.
	PinnedCostCents *int64
}

// CurrentStock sums the remaining quantity of lots that still hold stock.
func CurrentStock(lots []domain.CostLot) int {
	total := 0
	for _, lot := range lots {
		if lot.Remaining > 0 {
			total += lot.Remaining
		}
	}
	return total
}

// CostBasis values the remaining stock at each lot's unit cost.
func CostBasis(lots []domain.CostLot) int64 {
	var total int64
	for _, lot := range lots {
		if lot.Remaining > 0 {
			total += int64(lot.Remaining) * lot.CostPerUnitCents
		}
	}
	return total
}

// SortLIFO orders lots newest purchase first. Purchase ID breaks ties so
// two lots bought in the same instant are always taken in the same order.
func SortLIFO(lots []domain.CostLot) {
	slices.SortStableFunc(lots, compareLIFO)
}

func compareLIFO(a domain.CostLot, b domain.CostLot) int {
	if a.PurchasedAt.After(b.PurchasedAt) {
		return -1
	}
	if a.PurchasedAt.Before(b.PurchasedAt) {
		return 1
	}
	return strings.Compare(b.PurchaseID, a.PurchaseID)
}

// Reserve plans which lots a sale of quantity units draws from. The lots
// argument is not modified; apply the result with Apply.
func Reserve(lots []domain.CostLot, quantity int, opts Options) ([]domain.LotAllocation, error) {
	if quantity < 1 {
		return nil, store.Errorf(store.ErrInvalidInput, "quantity must be greater than zero")
	}

	available := CurrentStock(lots)
	if available < quantity {
		return nil, store.Errorf(store.ErrInsufficientStock, fmt.Sprintf("requested %d, available %d", quantity, available))
	}

	ordered := slices.Clone(lots)
	SortLIFO(ordered)

	allocations := make([]domain.LotAllocation, 0, 2)
	remaining := quantity
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		if lot.Remaining < 1 {
			continue
		}
		if opts.PinnedCostCents != nil && lot.CostPerUnitCents != *opts.PinnedCostCents {
			continue
		}
		used := min(remaining, lot.Remaining)
		allocations = append(allocations, domain.LotAllocation{
			PurchaseID:       lot.PurchaseID,
			Quantity:         used,
			CostPerUnitCents: lot.CostPerUnitCents,
		})
		remaining -= used
	}

	if remaining > 0 && opts.PinnedCostCents == nil {
		return nil, store.Errorf(store.ErrInsufficientStock, fmt.Sprintf("requested %d, available %d", quantity, quantity-remaining))
	}
	if remaining > 0 {
		return nil, store.Errorf(store.ErrStockMismatch, fmt.Sprintf("only %d of %d units available at cost %d", quantity-remaining, quantity, *opts.PinnedCostCents))
	}
	return allocations, nil
}

// Apply returns a copy of lots with each allocation deducted.
func Apply(lots []domain.CostLot, allocations []domain.LotAllocation) ([]domain.CostLot, error) {
	updated := slices.Clone(lots)
	index := lotIndex(updated)
	for _, alloc := range allocations {
		i, ok := index[alloc.PurchaseID]
		if !ok {
			return nil, store.Errorf(store.ErrStockMismatch, "lot "+alloc.PurchaseID+" is no longer available")
		}
		if alloc.Quantity < 1 || updated[i].Remaining < alloc.Quantity {
			return nil, store.Errorf(store.ErrInsufficientStock, "lot "+alloc.PurchaseID+" cannot cover allocation")
		}
		updated[i].Remaining -= alloc.Quantity
	}
	return updated, nil
}

// Restore returns a copy of lots with each allocation given back. A lot
// never ends up holding more than it was purchased with.
func Restore(lots []domain.CostLot, allocations []domain.LotAllocation) ([]domain.CostLot, error) {
	updated := slices.Clone(lots)
	index := lotIndex(updated)
	for _, alloc := range allocations {
		i, ok := index[alloc.PurchaseID]
		if !ok {
			return nil, store.Errorf(store.ErrInvalidInput, "lot "+alloc.PurchaseID+" is not active")
		}
		if updated[i].Remaining+alloc.Quantity > updated[i].Quantity {
			return nil, store.Errorf(store.ErrInvalidInput, "lot "+alloc.PurchaseID+" would exceed purchased quantity")
		}
		updated[i].Remaining += alloc.Quantity
	}
	return updated, nil
}

// RealizedCost returns the exact cost of the allocations and the blended
// unit cost rounded half up.
func RealizedCost(allocations []domain.LotAllocation) (totalCents int64, perUnitCents int64) {
	qty := 0
	for _, alloc := range allocations {
		totalCents += int64(alloc.Quantity) * alloc.CostPerUnitCents
		qty += alloc.Quantity
	}
	if qty == 0 {
		return 0, 0
	}
	perUnitCents = decimal.NewFromInt(totalCents).
		Div(decimal.NewFromInt(int64(qty))).
		Round(0).
		IntPart()
	return totalCents, perUnitCents
}

// BuildSale fills the cost, total and profit fields of sale from allocations.
func BuildSale(sale domain.SaleRecord, allocations []domain.LotAllocation) domain.SaleRecord {
	sale.Allocations = slices.Clone(allocations)
	sale.CostTotalCents, sale.CostPerUnitCents = RealizedCost(allocations)
	sale.RecomputeTotals()
	return sale
}

func lotIndex(lots []domain.CostLot) map[string]int {
	index := make(map[string]int, len(lots))
	for i, lot := range lots {
		index[lot.PurchaseID] = i
	}
	return index
}
