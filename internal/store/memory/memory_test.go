package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func seedItem(t *testing.T, s *Store) domain.Item {
	t.Helper()
	item, err := s.CreateItem(context.Background(), domain.Item{Name: "Brake Pad", CategoryID: "brakes"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return *item
}

func TestCreatePurchaseSetsLotAndLastCost(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)

	p, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 10, CostPerUnitCents: 100, PurchasedAt: day})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if p.Remaining != 10 || p.TotalCostCents != 1000 || !p.Active {
		t.Fatalf("unexpected purchase: %+v", p)
	}

	got, _ := s.GetItem(ctx, item.ID)
	if got.LastCostCents != 100 {
		t.Fatalf("expected last cost 100, got %d", got.LastCostCents)
	}

	if _, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: "missing", Quantity: 1}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
	if _, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 0}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)
	if _, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 3, CostPerUnitCents: 100, PurchasedAt: day}); err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	_, err := s.CreateSale(ctx, store.SaleDraft{Sale: domain.SaleRecord{ItemID: item.ID, Quantity: 4, PricePerUnitCents: 150, SoldAt: day}})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	sales, _ := s.ListSalesByItem(ctx, item.ID, false)
	if len(sales) != 0 {
		t.Fatalf("failed sale must not be persisted")
	}

	sale, err := s.CreateSale(ctx, store.SaleDraft{Sale: domain.SaleRecord{ItemID: item.ID, Quantity: 3, PricePerUnitCents: 150, SoldAt: day}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.CostTotalCents != 300 || sale.ProfitCents != 150 || len(sale.Allocations) != 1 {
		t.Fatalf("unexpected sale: %+v", sale)
	}

	lots, _ := s.ListLots(ctx, item.ID)
	if len(lots) != 1 || lots[0].Remaining != 0 {
		t.Fatalf("expected exhausted lot, got %+v", lots)
	}
}

func TestSoftDeleteSaleRestoresLots(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)
	p, _ := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 5, CostPerUnitCents: 100, PurchasedAt: day})
	sale, err := s.CreateSale(ctx, store.SaleDraft{Sale: domain.SaleRecord{ItemID: item.ID, Quantity: 2, PricePerUnitCents: 150, SoldAt: day}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if _, err := s.SoftDeletePurchase(ctx, p.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input deleting a drawn purchase, got %v", err)
	}

	deleted, err := s.SoftDeleteSale(ctx, sale.ID, store.SalesDay{})
	if err != nil {
		t.Fatalf("soft delete sale: %v", err)
	}
	if deleted.Active {
		t.Fatalf("expected inactive sale")
	}
	restored, _ := s.GetPurchase(ctx, p.ID)
	if restored.Remaining != 5 {
		t.Fatalf("expected lot restored to 5, got %d", restored.Remaining)
	}

	if _, err := s.SoftDeletePurchase(ctx, p.ID); err != nil {
		t.Fatalf("untouched purchase should be deletable: %v", err)
	}
	lots, _ := s.ListLots(ctx, item.ID)
	if len(lots) != 0 {
		t.Fatalf("deleted purchase must leave the lot list, got %+v", lots)
	}
}

func TestSaleChangesKeepSavedTransferCovered(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)
	if _, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 10, CostPerUnitCents: 100, PurchasedAt: day}); err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	sale, err := s.CreateSale(ctx, store.SaleDraft{Sale: domain.SaleRecord{ItemID: item.ID, Quantity: 4, PricePerUnitCents: 150, SoldAt: day.Add(10 * time.Hour)}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := s.UpsertTransfer(ctx, domain.DailyTransfer{Date: "2025-03-01", CashCents: 600, TotalCents: 600}, 600); err != nil {
		t.Fatalf("upsert transfer: %v", err)
	}
	salesDay := store.SalesDay{Date: "2025-03-01", From: day, To: day.Add(24*time.Hour - time.Nanosecond)}

	if _, err := s.SoftDeleteSale(ctx, sale.ID, salesDay); !errors.Is(err, store.ErrTransferExceedsSales) {
		t.Fatalf("expected transfer exceeds sales, got %v", err)
	}
	cheaper := int64(100)
	if _, err := s.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{PricePerUnitCents: &cheaper}, salesDay); !errors.Is(err, store.ErrTransferExceedsSales) {
		t.Fatalf("expected transfer exceeds sales on reprice, got %v", err)
	}

	got, _ := s.GetSale(ctx, sale.ID)
	if !got.Active || got.TotalCents != 600 {
		t.Fatalf("rejected changes must leave the sale untouched, got %+v", got)
	}
	lots, _ := s.ListLots(ctx, item.ID)
	if len(lots) != 1 || lots[0].Remaining != 6 {
		t.Fatalf("rejected delete must not restore stock, got %+v", lots)
	}

	// Another day's transfer does not constrain this sale.
	if _, err := s.SoftDeleteSale(ctx, sale.ID, store.SalesDay{Date: "2025-03-02", From: day.AddDate(0, 0, 1), To: day.AddDate(0, 0, 2)}); err != nil {
		t.Fatalf("delete against a day without transfer: %v", err)
	}
}

func TestPurchaseDateFixedOnceLotIsDrawn(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)
	p, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 5, CostPerUnitCents: 100, PurchasedAt: day})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	earlier := day.Add(-48 * time.Hour)
	moved, err := s.UpdatePurchase(ctx, p.ID, domain.PurchaseUpdateRequest{PurchasedAt: &earlier})
	if err != nil {
		t.Fatalf("untouched lot should accept a new date: %v", err)
	}
	if !moved.PurchasedAt.Equal(earlier) {
		t.Fatalf("expected purchased_at %v, got %v", earlier, moved.PurchasedAt)
	}

	if _, err := s.CreateSale(ctx, store.SaleDraft{Sale: domain.SaleRecord{ItemID: item.ID, Quantity: 1, PricePerUnitCents: 150, SoldAt: day}}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	later := day.Add(24 * time.Hour)
	if _, err := s.UpdatePurchase(ctx, p.ID, domain.PurchaseUpdateRequest{PurchasedAt: &later}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input moving a drawn lot, got %v", err)
	}

	supplier := "Toko Jaya"
	updated, err := s.UpdatePurchase(ctx, p.ID, domain.PurchaseUpdateRequest{PurchasedAt: &earlier, Supplier: &supplier})
	if err != nil {
		t.Fatalf("resending the same date should pass: %v", err)
	}
	if updated.Supplier != supplier || !updated.PurchasedAt.Equal(earlier) {
		t.Fatalf("unexpected purchase: %+v", updated)
	}
}

func TestDateRangeIsInclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := seedItem(t, s)
	end := day.Add(24*time.Hour - time.Nanosecond)

	for _, at := range []time.Time{day.Add(-time.Nanosecond), day, end, end.Add(time.Nanosecond)} {
		if _, err := s.CreatePurchase(ctx, domain.PurchaseRecord{ItemID: item.ID, Quantity: 1, CostPerUnitCents: 10, PurchasedAt: at}); err != nil {
			t.Fatalf("create purchase: %v", err)
		}
	}

	purchases, err := s.ListPurchasesByDateRange(ctx, day, end, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(purchases) != 2 {
		t.Fatalf("expected both boundary purchases, got %d", len(purchases))
	}
	if !purchases[0].PurchasedAt.Equal(day) || !purchases[1].PurchasedAt.Equal(end) {
		t.Fatalf("unexpected order: %v, %v", purchases[0].PurchasedAt, purchases[1].PurchasedAt)
	}
}

func TestUpsertTransferRespectsMaximum(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.UpsertTransfer(ctx, domain.DailyTransfer{Date: "2025-03-01", CashCents: 500, BankCents: 101}, 600); !errors.Is(err, store.ErrTransferExceedsSales) {
		t.Fatalf("expected transfer exceeds sales, got %v", err)
	}
	if _, err := s.GetTransfer(ctx, "2025-03-01"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected transfer must not be stored, got %v", err)
	}

	saved, err := s.UpsertTransfer(ctx, domain.DailyTransfer{Date: "2025-03-01", CashCents: 500, BankCents: 100}, 600)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.TotalCents != 600 {
		t.Fatalf("expected total 600, got %d", saved.TotalCents)
	}
}

func TestSeededStoreHasUsersAndCatalog(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-secret")

	s := NewSeeded()
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "admin" || users[0].Password == "admin-secret" {
		t.Fatalf("unexpected seeded users: %+v", users)
	}

	items, _ := s.ListItems(context.Background(), true)
	if len(items) == 0 {
		t.Fatalf("expected seeded catalog")
	}
}
