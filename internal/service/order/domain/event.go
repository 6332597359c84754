// internal/service/order/domain/event.go
package domain

import "time"

// 订单事件类型，供通知/推送等下游协作方订阅。
const (
	EventOrderCreated          = "order.created"
	EventOrderPaid             = "order.paid"
	EventOrderCancelled        = "order.cancelled"
	EventOrderTimeoutCancelled = "order.timeout_cancelled"
	EventPaymentFailed         = "order.payment_failed"
)

// OrderEvent 是订单状态变化后异步发布的事件。
// 发布失败只记录日志，绝不阻塞或失败主流程。
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     int64     `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      int64     `json:"userId"`
	TotalAmount float64   `json:"totalAmount"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewOrderEvent 从订单当前状态构造一个事件。
func NewOrderEvent(eventType string, order *Order) *OrderEvent {
	return &OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now(),
	}
}
