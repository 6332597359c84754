// internal/service/order/domain/order_test.go
package domain

import (
	"errors"
	"strings"
	"testing"
)

func validOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(NewOrderNumber(), 42, nil)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := o.AddItem(1, "商品一", 10.00, 2, nil); err != nil {
		t.Fatalf("add item: %v", err)
	}
	return o
}

func TestNewOrderNumber(t *testing.T) {
	n := NewOrderNumber()
	if !strings.HasPrefix(n, "ORD") {
		t.Errorf("order number must start with ORD, got %s", n)
	}
	if len(n) != len("ORD")+8+8 {
		t.Errorf("unexpected order number length: %s", n)
	}
	if n == NewOrderNumber() {
		t.Errorf("order numbers must be unique")
	}
}

func TestAddItem(t *testing.T) {
	o := validOrder(t)
	if o.Items[0].TotalPrice != 20.00 {
		t.Errorf("expected item total 20.00, got %v", o.Items[0].TotalPrice)
	}
	if err := o.AddItem(2, "商品二", 5.00, 0, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestFinalizeAmounts(t *testing.T) {
	t.Run("total = subtotal + tax + shipping - discount", func(t *testing.T) {
		o := validOrder(t)
		if err := o.AddItem(2, "商品二", 5.00, 1, nil); err != nil {
			t.Fatal(err)
		}
		if err := o.FinalizeAmounts(2.50, 6.00, 3.00); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if o.Subtotal != 25.00 {
			t.Errorf("expected subtotal 25.00, got %v", o.Subtotal)
		}
		if o.TotalAmount != 30.50 {
			t.Errorf("expected total 30.50, got %v", o.TotalAmount)
		}
	})

	t.Run("discount is clamped to the gross amount", func(t *testing.T) {
		o := validOrder(t)
		if err := o.FinalizeAmounts(0, 0, 999.00); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if o.TotalAmount != 0 {
			t.Errorf("total must not go negative, got %v", o.TotalAmount)
		}
		if o.DiscountAmount != 20.00 {
			t.Errorf("discount should be clamped to 20.00, got %v", o.DiscountAmount)
		}
	})

	t.Run("rejects empty order and negative amounts", func(t *testing.T) {
		o, _ := NewOrder(NewOrderNumber(), 42, nil)
		if err := o.FinalizeAmounts(0, 0, 0); !errors.Is(err, ErrEmptyOrder) {
			t.Errorf("expected ErrEmptyOrder, got %v", err)
		}
		o2 := validOrder(t)
		if err := o2.FinalizeAmounts(-1, 0, 0); err == nil {
			t.Errorf("negative tax must be rejected")
		}
	})
}

func TestCancel(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusRefunded} {
		o := validOrder(t)
		o.Status = status
		if err := o.Cancel(); !errors.Is(err, ErrOrderNotCancellable) {
			t.Errorf("status %s: expected ErrOrderNotCancellable, got %v", status, err)
		}
	}

	o := validOrder(t)
	if err := o.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != StatusCancelled || o.PaymentStatus != PaymentCancelled {
		t.Errorf("expected cancelled/cancelled, got %s/%s", o.Status, o.PaymentStatus)
	}
}

func TestApplyStatus(t *testing.T) {
	o := validOrder(t)
	if err := o.ApplyStatus(StatusShipped, ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if o.Status != StatusShipped || o.PaymentStatus != PaymentPending {
		t.Errorf("empty payment status must not change it, got %s/%s", o.Status, o.PaymentStatus)
	}

	o.Status = StatusCompleted
	if err := o.ApplyStatus(StatusPending, ""); err == nil {
		t.Errorf("leaving a terminal status must be rejected")
	}
}

func TestReleasesStockOnCancel(t *testing.T) {
	o := validOrder(t)
	if !o.ReleasesStockOnCancel() {
		t.Errorf("pending unpaid order holds stock")
	}

	o.PaymentStatus = PaymentSuccess
	if o.ReleasesStockOnCancel() {
		t.Errorf("paid order must not release stock on cancel")
	}

	o2 := validOrder(t)
	o2.Status = StatusShipped
	if o2.ReleasesStockOnCancel() {
		t.Errorf("shipped order must not release stock")
	}
}
