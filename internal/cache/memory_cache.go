package cache

import (
	"context"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
)

// MemoryReportCache is the single-process cache used when Redis is not
// configured.
type MemoryReportCache struct {
	mu         sync.Mutex
	snapshot   *domain.InventorySnapshot
	expiresAt  time.Time
	generation int64
	now        func() time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{now: time.Now}
}

func (c *MemoryReportCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryReportCache) GetInventory(_ context.Context) (*domain.InventorySnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	dup := *c.snapshot
	dup.Items = append([]domain.InventoryRow(nil), c.snapshot.Items...)
	return &dup, true, nil
}

func (c *MemoryReportCache) SetInventory(_ context.Context, value *domain.InventorySnapshot, generation int64, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}

	dup := *value
	dup.Items = append([]domain.InventoryRow(nil), value.Items...)
	c.snapshot = &dup
	c.expiresAt = c.now().Add(ttl)
	return nil
}

func (c *MemoryReportCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.snapshot = nil
	return nil
}
