// internal/service/order/domain/state.go
package domain

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPending   Status = "pending"   // 待支付
	StatusPaid      Status = "paid"      // 已支付
	StatusConfirmed Status = "confirmed" // 已确认
	StatusPreparing Status = "preparing" // 准备中
	StatusReady     Status = "ready"     // 待取货
	StatusShipped   Status = "shipped"   // 已发货
	StatusDelivered Status = "delivered" // 已送达
	StatusCompleted Status = "completed" // 已完成
	StatusCancelled Status = "cancelled" // 已取消 (用户主动或系统超时)
	StatusRefunded  Status = "refunded"  // 已退款
)

// PaymentStatus 定义了订单的支付状态
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"    // 待支付
	PaymentProcessing PaymentStatus = "processing" // 支付中
	PaymentSuccess    PaymentStatus = "success"    // 支付成功
	PaymentFailed     PaymentStatus = "failed"     // 支付失败
	PaymentCancelled  PaymentStatus = "cancelled"  // 支付取消
	PaymentRefunded   PaymentStatus = "refunded"   // 已退款
)

// IsTerminal 终态订单不允许取消。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// IsFinal 支付是否已有不可逆的结果。支付回调对这些状态重复投递时幂等返回成功。
func (p PaymentStatus) IsFinal() bool {
	return p == PaymentSuccess || p == PaymentRefunded
}
