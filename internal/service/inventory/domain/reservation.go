// internal/service/inventory/domain/reservation.go
package domain

import (
	"errors"
	"time"
)

// Reservation 是一次缓存预扣的描述：某个订单对某个商品占住的数量。
// 它只存在于缓存中，带 TTL，由 confirm 或 rollback 清除；
// TTL 到期清除是崩溃兜底，不是正常路径。
type Reservation struct {
	ProductID int64
	OrderRef  string // 订单号，预扣发生在订单落库之前，用订单号做关联键
	Quantity  int
	TTL       time.Duration
}

// NewReservation 校验并构造一次预扣描述。
func NewReservation(productID int64, orderRef string, quantity int, ttl time.Duration) (*Reservation, error) {
	if productID <= 0 {
		return nil, errors.New("reservation requires a valid product id")
	}
	if orderRef == "" {
		return nil, errors.New("reservation requires an order reference")
	}
	if quantity <= 0 {
		return nil, errors.New("reservation quantity must be positive")
	}
	return &Reservation{
		ProductID: productID,
		OrderRef:  orderRef,
		Quantity:  quantity,
		TTL:       ttl,
	}, nil
}
