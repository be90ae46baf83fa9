package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, ItemKey("item-1"))
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if l.held() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", l.held())
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, ItemKey("a"))
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(timeoutCtx, ItemKey("b"))
	if err != nil {
		t.Fatalf("lock b should not wait on a: %v", err)
	}
	unlockB()
}

func TestLocalHonorsContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), TransferKey("2025-03-01"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, TransferKey("2025-03-01")); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	unlock()
	unlock()
	if l.held() != 0 {
		t.Fatalf("expected no entries after release, got %d", l.held())
	}
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("TOKOLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TOKOLEDGER_TEST_REDIS_ADDR to run redis lock test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedis(client, 5*time.Second, 100*time.Millisecond, nil)
	key := ItemKey("redis-it-" + time.Now().Format("150405.000000"))

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.Lock(context.Background(), key); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for second holder, got %v", err)
	}
	unlock()

	again, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	again()
}
