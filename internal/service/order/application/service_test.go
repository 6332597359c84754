// internal/service/order/application/service_test.go
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	invdomain "mall/internal/service/inventory/domain"
	"mall/internal/service/order/domain"
)

// ---- 内存假实现 ----

type fakeRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	nextID int64

	createErr error
	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: make(map[string]*domain.Order)}
}

// clone 模拟真实数据库的读写边界：仓储内外不共享可变状态。
func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (r *fakeRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	order.ID = r.nextID
	r.orders[order.OrderNumber] = clone(order)
	return nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID == id {
			return clone(o), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *fakeRepo) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderNumber]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return clone(o), nil
}

func (r *fakeRepo) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) Update(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.orders[order.OrderNumber]; !ok {
		return domain.ErrOrderNotFound
	}
	r.orders[order.OrderNumber] = clone(order)
	return nil
}

func (r *fakeRepo) FindTimedOut(ctx context.Context, status domain.Status, before time.Time, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status == status && !o.PaymentStatus.IsFinal() && o.CreatedAt.Before(before) {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeProducts struct {
	products map[int64]*domain.ProductInfo
}

func (p *fakeProducts) GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.ProductInfo, error) {
	out := make(map[int64]*domain.ProductInfo)
	for _, id := range ids {
		if info, ok := p.products[id]; ok {
			out[id] = info
		}
	}
	return out, nil
}

// fakeStock 记录每一次库存调用，失败点可按商品配置。
type fakeStock struct {
	mu sync.Mutex

	available   map[int64]bool
	reserveErr  map[int64]error
	confirmErr  map[int64]error
	reserved    []int64
	confirmed   []int64
	rolledBack  []int64
	restored    []int64
	released    []int64
	releaseFail map[int64]error
}

func newFakeStock() *fakeStock {
	return &fakeStock{
		available:   make(map[int64]bool),
		reserveErr:  make(map[int64]error),
		confirmErr:  make(map[int64]error),
		releaseFail: make(map[int64]error),
	}
}

func (s *fakeStock) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	return s.available[productID], nil
}

func (s *fakeStock) Reserve(ctx context.Context, productID int64, quantity int, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reserveErr[productID]; err != nil {
		return err
	}
	s.reserved = append(s.reserved, productID)
	return nil
}

func (s *fakeStock) Confirm(ctx context.Context, productID int64, quantity int, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.confirmErr[productID]; err != nil {
		return err
	}
	s.confirmed = append(s.confirmed, productID)
	return nil
}

func (s *fakeStock) Rollback(ctx context.Context, productID int64, orderRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolledBack = append(s.rolledBack, productID)
	return true, nil
}

func (s *fakeStock) Release(ctx context.Context, productID int64, quantity int, orderRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.releaseFail[productID]; err != nil {
		return err
	}
	s.released = append(s.released, productID)
	return nil
}

func (s *fakeStock) RestoreCachedStock(ctx context.Context, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = append(s.restored, productID)
	return nil
}

// fakeTransactor 直接执行 fn；fn 失败时恢复仓储快照，模拟事务回滚。
type fakeTransactor struct {
	repo *fakeRepo
}

func (t *fakeTransactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.repo.mu.Lock()
	snapshot := make(map[string]*domain.Order, len(t.repo.orders))
	for k, v := range t.repo.orders {
		snapshot[k] = v
	}
	t.repo.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.repo.mu.Lock()
		t.repo.orders = snapshot
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*domain.OrderEvent
}

func (n *fakeNotifier) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

type fixture struct {
	svc      *OrderService
	repo     *fakeRepo
	stock    *fakeStock
	products *fakeProducts
}

func newFixture() *fixture {
	repo := newFakeRepo()
	stock := newFakeStock()
	products := &fakeProducts{products: map[int64]*domain.ProductInfo{
		1: {ID: 1, Title: "商品一", Price: 10.00},
		2: {ID: 2, Title: "商品二", Price: 5.00},
	}}
	stock.available[1] = true
	stock.available[2] = true

	svc := NewOrderService(
		repo,
		products,
		stock,
		&fakeTransactor{repo: repo},
		&fakeNotifier{},
		nil, // 无折扣引擎
		noop.NewTracerProvider().Tracer("test"),
	)
	return &fixture{svc: svc, repo: repo, stock: stock, products: products}
}

func twoItemRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		UserID: 42,
		Items: []OrderItemInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	}
}

// ---- 用例 ----

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("computes totals from item snapshots", func(t *testing.T) {
		f := newFixture()

		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if resp.Subtotal != 25.00 || resp.TotalAmount != 25.00 {
			t.Errorf("expected subtotal=25.00 total=25.00, got %v / %v", resp.Subtotal, resp.TotalAmount)
		}
		if len(resp.Items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(resp.Items))
		}
		if resp.Items[0].TotalPrice != 20.00 || resp.Items[1].TotalPrice != 5.00 {
			t.Errorf("unexpected item totals: %v / %v", resp.Items[0].TotalPrice, resp.Items[1].TotalPrice)
		}
		if resp.Status != string(domain.StatusPending) || resp.PaymentStatus != string(domain.PaymentPending) {
			t.Errorf("new order must be pending/pending, got %s/%s", resp.Status, resp.PaymentStatus)
		}
		if len(f.stock.confirmed) != 2 {
			t.Errorf("expected both items confirmed, got %v", f.stock.confirmed)
		}
		if len(f.stock.rolledBack) != 0 {
			t.Errorf("no rollback expected, got %v", f.stock.rolledBack)
		}
	})

	t.Run("rejects empty and invalid requests", func(t *testing.T) {
		f := newFixture()

		if _, err := f.svc.CreateOrder(ctx, &CreateOrderRequest{UserID: 42}); !errors.Is(err, domain.ErrEmptyOrder) {
			t.Errorf("expected ErrEmptyOrder, got %v", err)
		}
		req := &CreateOrderRequest{UserID: 42, Items: []OrderItemInput{{ProductID: 1, Quantity: 0}}}
		if _, err := f.svc.CreateOrder(ctx, req); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("expected ErrInvalidQuantity, got %v", err)
		}
		req = &CreateOrderRequest{UserID: 42, Items: []OrderItemInput{{ProductID: 99, Quantity: 1}}}
		if _, err := f.svc.CreateOrder(ctx, req); !errors.Is(err, domain.ErrProductNotFound) {
			t.Errorf("expected ErrProductNotFound, got %v", err)
		}
		if f.repo.count() != 0 {
			t.Errorf("no order should be persisted")
		}
	})

	t.Run("duplicate product lines are rejected before any reservation", func(t *testing.T) {
		f := newFixture()

		// 预扣记录按商品+订单号存放，重复行会互相覆盖，
		// 回滚只能归还最后一行的数量，缓存库存从此少一截
		req := &CreateOrderRequest{UserID: 42, Items: []OrderItemInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 1, Quantity: 3},
		}}
		_, err := f.svc.CreateOrder(ctx, req)
		if !errors.Is(err, domain.ErrDuplicateItem) {
			t.Fatalf("expected ErrDuplicateItem, got %v", err)
		}
		if len(f.stock.reserved) != 0 {
			t.Errorf("nothing should be reserved, got %v", f.stock.reserved)
		}
		if f.repo.count() != 0 {
			t.Errorf("no order should be persisted")
		}
	})

	t.Run("unavailable stock aborts with no side effects", func(t *testing.T) {
		f := newFixture()
		f.stock.available[2] = false

		_, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if !errors.Is(err, invdomain.ErrInsufficientStock) {
			t.Fatalf("expected ErrInsufficientStock, got %v", err)
		}
		if len(f.stock.reserved) != 0 {
			t.Errorf("nothing should be reserved, got %v", f.stock.reserved)
		}
		if f.repo.count() != 0 {
			t.Errorf("no order should be persisted")
		}
	})

	t.Run("reserve failure rolls back earlier reservations", func(t *testing.T) {
		f := newFixture()
		f.stock.reserveErr[2] = invdomain.ErrLockContention

		_, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if !errors.Is(err, invdomain.ErrLockContention) {
			t.Fatalf("expected ErrLockContention, got %v", err)
		}
		if len(f.stock.rolledBack) != 1 || f.stock.rolledBack[0] != 1 {
			t.Errorf("expected rollback of product 1, got %v", f.stock.rolledBack)
		}
		if f.repo.count() != 0 {
			t.Errorf("no order should be persisted")
		}
	})

	t.Run("confirm failure aborts transaction and compensates everything", func(t *testing.T) {
		f := newFixture()
		f.stock.confirmErr[2] = invdomain.ErrConfirmFailed

		_, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if !errors.Is(err, invdomain.ErrConfirmFailed) {
			t.Fatalf("expected ErrConfirmFailed, got %v", err)
		}
		if f.repo.count() != 0 {
			t.Errorf("aborted transaction must leave zero orders, got %d", f.repo.count())
		}
		// 已确认的商品 1 走缓存回补，未确认的商品 2 走预扣回滚
		if len(f.stock.restored) != 1 || f.stock.restored[0] != 1 {
			t.Errorf("expected cached restore of product 1, got %v", f.stock.restored)
		}
		if len(f.stock.rolledBack) != 1 || f.stock.rolledBack[0] != 2 {
			t.Errorf("expected rollback of product 2, got %v", f.stock.rolledBack)
		}
	})

	t.Run("persistence failure compensates all reservations", func(t *testing.T) {
		f := newFixture()
		f.repo.createErr = fmt.Errorf("connection lost")

		_, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err == nil {
			t.Fatal("expected error")
		}
		if len(f.stock.rolledBack) != 2 {
			t.Errorf("expected both reservations rolled back, got %v", f.stock.rolledBack)
		}
		if len(f.stock.restored) != 0 {
			t.Errorf("nothing was confirmed, no cache restore expected, got %v", f.stock.restored)
		}
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order cancels and releases stock", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		cancelled, err := f.svc.CancelOrder(ctx, resp.OrderNumber, 42)
		if err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if cancelled.Status != string(domain.StatusCancelled) {
			t.Errorf("expected cancelled, got %s", cancelled.Status)
		}
		if len(f.stock.released) != 2 {
			t.Errorf("expected stock released for both items, got %v", f.stock.released)
		}
	})

	t.Run("release failure rolls back the cancellation", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		f.stock.releaseFail[1] = fmt.Errorf("mysql gone")
		if _, err := f.svc.CancelOrder(ctx, resp.OrderNumber, 42); err == nil {
			t.Fatal("expected cancel to fail when release fails")
		}
		// 归还失败时取消不得落库，订单保持待支付可重试
		got, err := f.svc.GetOrderByNumber(ctx, resp.OrderNumber)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status != string(domain.StatusPending) {
			t.Fatalf("order must stay pending after failed release, got %s", got.Status)
		}

		delete(f.stock.releaseFail, 1)
		cancelled, err := f.svc.CancelOrder(ctx, resp.OrderNumber, 42)
		if err != nil {
			t.Fatalf("retry cancel failed: %v", err)
		}
		if cancelled.Status != string(domain.StatusCancelled) {
			t.Errorf("expected cancelled after retry, got %s", cancelled.Status)
		}
		if len(f.stock.released) != 2 {
			t.Errorf("expected stock released for both items, got %v", f.stock.released)
		}
	})

	t.Run("paid order cancels without stock release", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: resp.OrderNumber, Success: true}); err != nil {
			t.Fatalf("callback failed: %v", err)
		}

		if _, err := f.svc.CancelOrder(ctx, resp.OrderNumber, 42); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if len(f.stock.released) != 0 {
			t.Errorf("paid order must not release stock, got %v", f.stock.released)
		}
	})

	t.Run("terminal order refuses cancellation", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := f.svc.CancelOrder(ctx, resp.OrderNumber, 42); err != nil {
			t.Fatalf("first cancel failed: %v", err)
		}

		_, err = f.svc.CancelOrder(ctx, resp.OrderNumber, 42)
		if !errors.Is(err, domain.ErrOrderNotCancellable) {
			t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
		}
	})

	t.Run("wrong user cannot cancel", func(t *testing.T) {
		f := newFixture()
		resp, err := f.svc.CreateOrder(ctx, twoItemRequest())
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		_, err = f.svc.CancelOrder(ctx, resp.OrderNumber, 7)
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestHandlePaymentCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks order paid", func(t *testing.T) {
		f := newFixture()
		resp, _ := f.svc.CreateOrder(ctx, twoItemRequest())

		updated, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: resp.OrderNumber, Success: true})
		if err != nil {
			t.Fatalf("callback failed: %v", err)
		}
		if updated.Status != string(domain.StatusPaid) || updated.PaymentStatus != string(domain.PaymentSuccess) {
			t.Errorf("expected paid/success, got %s/%s", updated.Status, updated.PaymentStatus)
		}
	})

	t.Run("duplicate success callback is a no-op", func(t *testing.T) {
		f := newFixture()
		resp, _ := f.svc.CreateOrder(ctx, twoItemRequest())

		first, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: resp.OrderNumber, Success: true})
		if err != nil {
			t.Fatalf("first callback failed: %v", err)
		}
		// 重复投递，甚至结果相反，都不得改变已终结的支付状态
		second, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: resp.OrderNumber, Success: false})
		if err != nil {
			t.Fatalf("duplicate callback must succeed, got %v", err)
		}
		if second.PaymentStatus != first.PaymentStatus || second.Status != first.Status {
			t.Errorf("duplicate callback changed state: %s/%s -> %s/%s",
				first.Status, first.PaymentStatus, second.Status, second.PaymentStatus)
		}
	})

	t.Run("failure keeps order pending", func(t *testing.T) {
		f := newFixture()
		resp, _ := f.svc.CreateOrder(ctx, twoItemRequest())

		updated, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: resp.OrderNumber, Success: false})
		if err != nil {
			t.Fatalf("callback failed: %v", err)
		}
		if updated.Status != string(domain.StatusPending) || updated.PaymentStatus != string(domain.PaymentFailed) {
			t.Errorf("expected pending/failed, got %s/%s", updated.Status, updated.PaymentStatus)
		}
	})

	t.Run("unknown order returns not found", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.HandlePaymentCallback(ctx, &PaymentCallbackRequest{OrderNumber: "ORD00000000XXXXXXXX", Success: true})
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}
