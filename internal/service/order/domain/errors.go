// internal/service/order/domain/errors.go
package domain

import "errors"

var (
	// ErrOrderNotFound 订单不存在或无权访问
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotCancellable 订单处于终态（已完成/已取消/已退款），拒绝取消
	ErrOrderNotCancellable = errors.New("order cannot be cancelled in its current status")

	// ErrEmptyOrder 订单没有任何商品项
	ErrEmptyOrder = errors.New("order must contain at least one item")

	// ErrInvalidQuantity 商品数量必须为正
	ErrInvalidQuantity = errors.New("item quantity must be at least 1")

	// ErrDuplicateItem 同一商品在订单中出现多行。预扣记录以
	// 商品+订单号为键，重复行会互相覆盖，必须在入口拒绝。
	ErrDuplicateItem = errors.New("duplicate product in order items")

	// ErrProductNotFound 请求的商品不存在或已下架
	ErrProductNotFound = errors.New("product not found")
)
