// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Order 是订单聚合的根实体。
// 状态字段只允许由订单编排服务写入；支付、展示等协作方只读。
type Order struct {
	ID          int64
	OrderNumber string
	UserID      int64

	Status        Status
	PaymentStatus PaymentStatus

	// 金额字段满足不变式 TotalAmount = Subtotal + TaxAmount + ShippingFee - DiscountAmount，
	// 且全部非负，由 FinalizeAmounts 统一计算。
	Subtotal       float64
	TaxAmount      float64
	ShippingFee    float64
	DiscountAmount float64
	TotalAmount    float64

	DeliveryAddress map[string]interface{}

	Items []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem 是商品在下单瞬间的不可变快照，
// 之后的商品编辑不会追溯影响历史订单。
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64

	ProductName string
	UnitPrice   float64
	Quantity    int
	TotalPrice  float64

	ProductAttributes map[string]interface{}
}

// NewOrderNumber 生成形如 ORD20250101A1B2C3D4 的订单号。
func NewOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("ORD%s%s", time.Now().Format("20060102"), suffix)
}

// NewOrder 创建一个处于初始状态（待支付/待付款）的订单。
func NewOrder(orderNumber string, userID int64, deliveryAddress map[string]interface{}) (*Order, error) {
	if orderNumber == "" || userID <= 0 {
		return nil, fmt.Errorf("cannot create order with empty required fields")
	}
	now := time.Now()
	return &Order{
		OrderNumber:     orderNumber,
		UserID:          userID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		DeliveryAddress: deliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// AddItem 把一个商品快照加入订单。
func (o *Order) AddItem(productID int64, name string, unitPrice float64, quantity int, attributes map[string]interface{}) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	o.Items = append(o.Items, OrderItem{
		ProductID:         productID,
		ProductName:       name,
		UnitPrice:         unitPrice,
		Quantity:          quantity,
		TotalPrice:        unitPrice * float64(quantity),
		ProductAttributes: attributes,
	})
	return nil
}

// FinalizeAmounts 汇总商品项并计算订单总额。
// 折扣被截断到不会使总额为负。
func (o *Order) FinalizeAmounts(taxAmount, shippingFee, discountAmount float64) error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	if taxAmount < 0 || shippingFee < 0 || discountAmount < 0 {
		return fmt.Errorf("order amounts must be non-negative")
	}

	var subtotal float64
	for _, item := range o.Items {
		subtotal += item.TotalPrice
	}

	gross := subtotal + taxAmount + shippingFee
	if discountAmount > gross {
		discountAmount = gross
	}

	o.Subtotal = subtotal
	o.TaxAmount = taxAmount
	o.ShippingFee = shippingFee
	o.DiscountAmount = discountAmount
	o.TotalAmount = gross - discountAmount
	return nil
}

// Cancel 取消订单。终态订单返回 ErrOrderNotCancellable。
func (o *Order) Cancel() error {
	if o.Status.IsTerminal() {
		return ErrOrderNotCancellable
	}
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// MarkPaid 记录支付成功。
func (o *Order) MarkPaid() {
	o.Status = StatusPaid
	o.PaymentStatus = PaymentSuccess
	o.UpdatedAt = time.Now()
}

// MarkPaymentFailed 记录支付失败，订单留在待支付状态等待重试或超时对账。
func (o *Order) MarkPaymentFailed() {
	o.PaymentStatus = PaymentFailed
	o.UpdatedAt = time.Now()
}

// ApplyStatus 应用一次通用的状态变更。
// 离开终态的变更被拒绝；paymentStatus 为空字符串表示不变。
func (o *Order) ApplyStatus(status Status, paymentStatus PaymentStatus) error {
	if o.Status.IsTerminal() && status != o.Status {
		return fmt.Errorf("cannot transition order %s out of terminal status %s", o.OrderNumber, o.Status)
	}
	o.Status = status
	if paymentStatus != "" {
		o.PaymentStatus = paymentStatus
	}
	o.UpdatedAt = time.Now()
	return nil
}

// ReleasesStockOnCancel 判断取消该订单是否需要归还库存。
// 只有仍处于待支付的订单占着未售出的库存；已支付订单的取消走退款流程。
func (o *Order) ReleasesStockOnCancel() bool {
	return o.Status == StatusPending && !o.PaymentStatus.IsFinal()
}
