package ledger

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func lot(id string, qty int, remaining int, cost int64, hour int) domain.CostLot {
	return domain.CostLot{
		PurchaseID:       id,
		ItemID:           "item-1",
		Quantity:         qty,
		Remaining:        remaining,
		CostPerUnitCents: cost,
		PurchasedAt:      t0.Add(time.Duration(hour) * time.Hour),
	}
}

func pin(cost int64) *int64 { return &cost }

func TestCurrentStockAndCostBasis(t *testing.T) {
	lots := []domain.CostLot{
		lot("p1", 5, 5, 10, 1),
		lot("p2", 5, 2, 12, 2),
		lot("p3", 4, 0, 15, 3),
	}

	if got := CurrentStock(lots); got != 7 {
		t.Fatalf("expected stock 7, got %d", got)
	}
	if got := CostBasis(lots); got != 5*10+2*12 {
		t.Fatalf("expected cost basis %d, got %d", 5*10+2*12, got)
	}
	if got := CurrentStock(nil); got != 0 {
		t.Fatalf("expected empty stock, got %d", got)
	}
}

func TestReserveTakesNewestLotFirst(t *testing.T) {
	lots := []domain.CostLot{
		lot("p1", 5, 5, 10, 1),
		lot("p2", 5, 5, 12, 2),
	}

	allocs, err := Reserve(lots, 5, Options{PinnedCostCents: pin(12)})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	want := domain.LotAllocation{PurchaseID: "p2", Quantity: 5, CostPerUnitCents: 12}
	if len(allocs) != 1 || allocs[0] != want {
		t.Fatalf("expected %+v, got %+v", want, allocs)
	}

	updated, err := Apply(lots, allocs)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := CurrentStock(updated); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}
	if updated[0].Remaining != 5 || updated[1].Remaining != 0 {
		t.Fatalf("unexpected remaining: %+v", updated)
	}

	// input untouched
	if lots[1].Remaining != 5 {
		t.Fatalf("apply mutated its input: %+v", lots)
	}
}

func TestReserveSpillsIntoOlderLots(t *testing.T) {
	lots := []domain.CostLot{
		lot("p1", 5, 5, 10, 1),
		lot("p2", 3, 3, 12, 2),
	}

	allocs, err := Reserve(lots, 7, Options{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %+v", allocs)
	}
	if allocs[0].PurchaseID != "p2" || allocs[0].Quantity != 3 {
		t.Fatalf("expected 3 from p2 first, got %+v", allocs[0])
	}
	if allocs[1].PurchaseID != "p1" || allocs[1].Quantity != 4 {
		t.Fatalf("expected 4 from p1 next, got %+v", allocs[1])
	}

	total, perUnit := RealizedCost(allocs)
	if total != 3*12+4*10 {
		t.Fatalf("expected total cost %d, got %d", 3*12+4*10, total)
	}
	if perUnit != 11 { // 76/7 = 10.857
		t.Fatalf("expected per unit 11, got %d", perUnit)
	}
}

func TestReserveTieBreaksOnPurchaseID(t *testing.T) {
	lots := []domain.CostLot{
		lot("p-a", 2, 2, 10, 1),
		lot("p-b", 2, 2, 11, 1),
	}

	allocs, err := Reserve(lots, 1, Options{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if allocs[0].PurchaseID != "p-b" {
		t.Fatalf("expected p-b, got %s", allocs[0].PurchaseID)
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	lots := []domain.CostLot{lot("p1", 3, 3, 10, 1)}

	if _, err := Reserve(lots, 4, Options{}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestReservePinnedCostMismatch(t *testing.T) {
	lots := []domain.CostLot{
		lot("p1", 5, 5, 10, 1),
		lot("p2", 2, 2, 12, 2),
	}

	if _, err := Reserve(lots, 4, Options{PinnedCostCents: pin(12)}); !errors.Is(err, store.ErrStockMismatch) {
		t.Fatalf("expected stock mismatch, got %v", err)
	}
	if _, err := Reserve(lots, 1, Options{PinnedCostCents: pin(99)}); !errors.Is(err, store.ErrStockMismatch) {
		t.Fatalf("expected stock mismatch for unknown cost, got %v", err)
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	_, err := Reserve([]domain.CostLot{lot("p1", 1, 1, 1, 1)}, 0, Options{})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestApplyAndRestoreRoundTrip(t *testing.T) {
	lots := []domain.CostLot{
		lot("p1", 5, 5, 10, 1),
		lot("p2", 5, 5, 12, 2),
	}
	allocs, err := Reserve(lots, 8, Options{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	sold, err := Apply(lots, allocs)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := CurrentStock(sold); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}

	back, err := Restore(sold, allocs)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(lots, back) {
		t.Fatalf("expected lots restored, got %+v", back)
	}

	if _, err := Restore(back, allocs); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input restoring past quantity, got %v", err)
	}
}

func TestApplyUnknownLot(t *testing.T) {
	_, err := Apply([]domain.CostLot{lot("p1", 1, 1, 1, 1)}, []domain.LotAllocation{{PurchaseID: "gone", Quantity: 1}})
	if !errors.Is(err, store.ErrStockMismatch) {
		t.Fatalf("expected stock mismatch, got %v", err)
	}
}

func TestBuildSale(t *testing.T) {
	sale := BuildSale(domain.SaleRecord{Quantity: 4, PricePerUnitCents: 150}, []domain.LotAllocation{
		{PurchaseID: "p1", Quantity: 4, CostPerUnitCents: 100},
	})

	if sale.TotalCents != 600 || sale.CostTotalCents != 400 || sale.CostPerUnitCents != 100 || sale.ProfitCents != 200 {
		t.Fatalf("unexpected sale totals: %+v", sale)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	if err != nil || p != LIFO {
		t.Fatalf("expected lifo default, got %v err=%v", p, err)
	}

	p, err = ParsePolicy("Cost-Pinned")
	if err != nil || p != CostPinned {
		t.Fatalf("expected cost-pinned, got %v err=%v", p, err)
	}
	if p.String() != "cost-pinned" {
		t.Fatalf("unexpected policy name %q", p.String())
	}

	if _, err := ParsePolicy("fifo"); err == nil {
		t.Fatalf("expected unsupported policy to fail")
	}
}
