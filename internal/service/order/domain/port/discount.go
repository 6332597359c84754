// internal/service/order/domain/port/discount.go
package port

import "context"

// DiscountFact 是折扣规则的输入事实。
type DiscountFact struct {
	UserID    int64
	IsVIP     bool
	Subtotal  float64
	ItemCount int
}

// DiscountEngine 根据规则计算订单折扣金额。
// 返回值会被订单侧钳制在 [0, 订单毛额] 区间内。
type DiscountEngine interface {
	Evaluate(ctx context.Context, fact DiscountFact) (float64, error)
}
