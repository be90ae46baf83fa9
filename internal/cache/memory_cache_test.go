package cache

import (
	"context"
	"testing"
	"time"

	"tokoledger/backend/internal/domain"
)

func TestMemoryReportCacheExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryReportCache()
	c.now = func() time.Time { return now }

	snapshot := &domain.InventorySnapshot{TotalItems: 1, Items: []domain.InventoryRow{{ItemID: "item-1", CurrentStock: 3}}}
	if err := c.SetInventory(ctx, snapshot, 0, 5*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.GetInventory(ctx)
	if err != nil || !ok {
		t.Fatalf("expected cache hit, ok=%v err=%v", ok, err)
	}
	got.Items[0].CurrentStock = 99
	again, _, _ := c.GetInventory(ctx)
	if again.Items[0].CurrentStock != 3 {
		t.Fatalf("cached snapshot was mutated through a returned copy")
	}

	now = now.Add(6 * time.Second)
	if _, ok, _ := c.GetInventory(ctx); ok {
		t.Fatalf("expected entry to expire")
	}

	now = now.Add(-6 * time.Second)
	_ = c.SetInventory(ctx, snapshot, 0, 5*time.Second)
	_ = c.Invalidate(ctx)
	if _, ok, _ := c.GetInventory(ctx); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestMemoryReportCacheDropsSnapshotFromOlderGeneration(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryReportCache()

	before, err := c.Generation(ctx)
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	stale := &domain.InventorySnapshot{TotalItems: 1, Items: []domain.InventoryRow{{ItemID: "item-1", CurrentStock: 5}}}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.SetInventory(ctx, stale, before, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.GetInventory(ctx); ok {
		t.Fatalf("snapshot read before an invalidate must not be cached")
	}

	after, _ := c.Generation(ctx)
	if after != before+1 {
		t.Fatalf("expected generation %d, got %d", before+1, after)
	}
	fresh := &domain.InventorySnapshot{TotalItems: 1, Items: []domain.InventoryRow{{ItemID: "item-1", CurrentStock: 0}}}
	_ = c.SetInventory(ctx, fresh, after, time.Minute)
	got, ok, _ := c.GetInventory(ctx)
	if !ok || got.Items[0].CurrentStock != 0 {
		t.Fatalf("expected current generation snapshot to be cached, got %+v", got)
	}
}

func TestNoopReportCacheAlwaysMisses(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	_ = c.SetInventory(context.Background(), &domain.InventorySnapshot{}, 0, time.Minute)
	if _, ok, _ := c.GetInventory(context.Background()); ok {
		t.Fatalf("noop cache should never hit")
	}
}
