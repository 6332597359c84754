// internal/service/inventory/application/reservation_service_test.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"mall/internal/service/inventory/domain"
)

// ---- 内存假实现 ----

type fakeCache struct {
	mu           sync.Mutex
	stock        map[int64]int64
	reservations map[string]int
	getErr       error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		stock:        make(map[int64]int64),
		reservations: make(map[string]int),
	}
}

func resKey(productID int64, orderRef string) string {
	return fmt.Sprintf("%d:%s", productID, orderRef)
}

func (c *fakeCache) GetStock(ctx context.Context, productID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	v, ok := c.stock[productID]
	return v, ok, nil
}

func (c *fakeCache) SetStock(ctx context.Context, productID, stock int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = stock
	return nil
}

func (c *fakeCache) SetStockBatch(ctx context.Context, stocks map[int64]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range stocks {
		c.stock[id] = v
	}
	return nil
}

func (c *fakeCache) SaveReservation(ctx context.Context, productID int64, orderRef string, quantity int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservations[resKey(productID, orderRef)] = quantity
	return nil
}

func (c *fakeCache) RollbackReservation(ctx context.Context, productID int64, orderRef string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.reservations[resKey(productID, orderRef)]
	if !ok {
		return false, nil
	}
	delete(c.reservations, resKey(productID, orderRef))
	c.stock[productID] += int64(qty)
	return true, nil
}

func (c *fakeCache) DeleteReservation(ctx context.Context, productID int64, orderRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reservations, resKey(productID, orderRef))
	return nil
}

func (c *fakeCache) AddStock(ctx context.Context, productID int64, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] += int64(quantity)
	return nil
}

func (c *fakeCache) cachedStock(productID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stock[productID]
}

func (c *fakeCache) reservationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reservations)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockContention
	}
	l.seq++
	token := fmt.Sprintf("tok-%d", l.seq)
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}

type fakeStore struct {
	mu         sync.Mutex
	stock      map[int64]int64
	sales      map[int64]int64
	getErr     error
	confirmErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{stock: make(map[int64]int64), sales: make(map[int64]int64)}
}

func (s *fakeStore) GetStock(ctx context.Context, productID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return 0, s.getErr
	}
	v, ok := s.stock[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return v, nil
}

func (s *fakeStore) ConfirmStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmErr != nil {
		return false, s.confirmErr
	}
	if s.stock[productID] < int64(quantity) {
		return false, nil
	}
	s.stock[productID] -= int64(quantity)
	s.sales[productID] += int64(quantity)
	return true, nil
}

func (s *fakeStore) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] += int64(quantity)
	s.sales[productID] -= int64(quantity)
	return nil
}

func (s *fakeStore) ListStocks(ctx context.Context, productIDs ...int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64)
	if len(productIDs) == 0 {
		for id, v := range s.stock {
			out[id] = v
		}
		return out, nil
	}
	for _, id := range productIDs {
		if v, ok := s.stock[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func newTestService(cache *fakeCache, locker *fakeLocker, store *fakeStore) *StockReservationService {
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewStockReservationService(cache, locker, store, tracer, 10*time.Minute, 30*time.Second)
}

// ---- 用例 ----

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("uses cached stock when present", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		svc := newTestService(cache, locker, store)

		ok, err := svc.CheckAvailability(ctx, 1, 5)
		if err != nil || !ok {
			t.Fatalf("expected available, got ok=%v err=%v", ok, err)
		}
		ok, err = svc.CheckAvailability(ctx, 1, 11)
		if err != nil || ok {
			t.Fatalf("expected unavailable, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("backfills cache from durable store on miss", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		store.stock[2] = 7
		svc := newTestService(cache, locker, store)

		ok, err := svc.CheckAvailability(ctx, 2, 7)
		if err != nil || !ok {
			t.Fatalf("expected available, got ok=%v err=%v", ok, err)
		}
		if got := cache.cachedStock(2); got != 7 {
			t.Errorf("expected cache backfilled to 7, got %d", got)
		}
	})

	t.Run("fails closed on cache read error", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.getErr = errors.New("redis down")
		store.stock[3] = 100
		svc := newTestService(cache, locker, store)

		ok, err := svc.CheckAvailability(ctx, 3, 1)
		if err == nil || ok {
			t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
		}
	})
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements cache and writes reservation", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		svc := newTestService(cache, locker, store)

		if err := svc.Reserve(ctx, 1, 3, "ORD1"); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if got := cache.cachedStock(1); got != 7 {
			t.Errorf("expected cached stock 7, got %d", got)
		}
		if n := cache.reservationCount(); n != 1 {
			t.Errorf("expected 1 reservation record, got %d", n)
		}
		if len(locker.held) != 0 {
			t.Errorf("lock should be released after reserve")
		}
	})

	t.Run("insufficient stock mutates nothing", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 2
		svc := newTestService(cache, locker, store)

		err := svc.Reserve(ctx, 1, 3, "ORD1")
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if got := cache.cachedStock(1); got != 2 {
			t.Errorf("stock must be untouched, got %d", got)
		}
		if n := cache.reservationCount(); n != 0 {
			t.Errorf("no reservation expected, got %d", n)
		}
	})

	t.Run("lock contention fails fast", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		locker.held["stock:1"] = "other"
		svc := newTestService(cache, locker, store)

		err := svc.Reserve(ctx, 1, 1, "ORD1")
		if !errors.Is(err, domain.ErrLockContention) {
			t.Fatalf("expected ErrLockContention, got %v", err)
		}
	})

	t.Run("no oversell under concurrent attempts", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 5
		svc := newTestService(cache, locker, store)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = svc.Reserve(ctx, 1, 3, fmt.Sprintf("ORD%d", i))
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range results {
			if err == nil {
				successes++
			} else if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrLockContention) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if successes > 1 {
			t.Fatalf("both reservations succeeded for stock=5, qty=3 each")
		}
		if successes == 1 && cache.cachedStock(1) != 2 {
			t.Errorf("expected cached stock 2 after one success, got %d", cache.cachedStock(1))
		}
	})
}

func TestRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve then rollback restores stock", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		svc := newTestService(cache, locker, store)

		if err := svc.Reserve(ctx, 1, 4, "ORD1"); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		restored, err := svc.Rollback(ctx, 1, "ORD1")
		if err != nil || !restored {
			t.Fatalf("expected rollback to restore, got restored=%v err=%v", restored, err)
		}
		if got := cache.cachedStock(1); got != 10 {
			t.Errorf("expected stock back to 10, got %d", got)
		}
	})

	t.Run("second rollback is a no-op", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		svc := newTestService(cache, locker, store)

		if err := svc.Reserve(ctx, 1, 4, "ORD1"); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if _, err := svc.Rollback(ctx, 1, "ORD1"); err != nil {
			t.Fatalf("first rollback failed: %v", err)
		}
		restored, err := svc.Rollback(ctx, 1, "ORD1")
		if err != nil {
			t.Fatalf("second rollback errored: %v", err)
		}
		if restored {
			t.Errorf("second rollback must not restore again")
		}
		if got := cache.cachedStock(1); got != 10 {
			t.Errorf("stock incremented twice: %d", got)
		}
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("success decrements durable stock and clears record", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		store.stock[1] = 10
		svc := newTestService(cache, locker, store)

		if err := svc.Reserve(ctx, 1, 3, "ORD1"); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if err := svc.Confirm(ctx, 1, 3, "ORD1"); err != nil {
			t.Fatalf("confirm failed: %v", err)
		}
		if store.stock[1] != 7 {
			t.Errorf("expected durable stock 7, got %d", store.stock[1])
		}
		if store.sales[1] != 3 {
			t.Errorf("expected sales 3, got %d", store.sales[1])
		}
		if n := cache.reservationCount(); n != 0 {
			t.Errorf("reservation record should be gone, got %d", n)
		}
	})

	t.Run("durable depletion rolls back the reservation", func(t *testing.T) {
		cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
		cache.stock[1] = 10
		store.stock[1] = 1 // 权威库存已被其他实例扣光
		svc := newTestService(cache, locker, store)

		if err := svc.Reserve(ctx, 1, 3, "ORD1"); err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		err := svc.Confirm(ctx, 1, 3, "ORD1")
		if !errors.Is(err, domain.ErrConfirmFailed) {
			t.Fatalf("expected ErrConfirmFailed, got %v", err)
		}
		if got := cache.cachedStock(1); got != 10 {
			t.Errorf("expected cached stock restored to 10, got %d", got)
		}
		if store.stock[1] != 1 {
			t.Errorf("durable stock must be untouched, got %d", store.stock[1])
		}
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
	cache.stock[1] = 7
	store.stock[1] = 7
	store.sales[1] = 3
	svc := newTestService(cache, locker, store)

	if err := svc.Release(ctx, 1, 3, "ORD1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if store.stock[1] != 10 || store.sales[1] != 0 {
		t.Errorf("expected durable stock=10 sales=0, got stock=%d sales=%d", store.stock[1], store.sales[1])
	}
	if got := cache.cachedStock(1); got != 10 {
		t.Errorf("expected cached stock 10, got %d", got)
	}
}

func TestSyncStockToCache(t *testing.T) {
	ctx := context.Background()

	cache, locker, store := newFakeCache(), newFakeLocker(), newFakeStore()
	store.stock[1] = 5
	store.stock[2] = 8
	svc := newTestService(cache, locker, store)

	count, err := svc.SyncStockToCache(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 products synced, got %d", count)
	}
	if cache.cachedStock(1) != 5 || cache.cachedStock(2) != 8 {
		t.Errorf("cache not synced: %v", cache.stock)
	}
}
