// internal/service/inventory/domain/errors.go
package domain

import "errors"

// 预扣流程的错误分类。调用方依赖这些哨兵错误区分
// 业务性拒绝（库存不足）、瞬时冲突（锁被占用）和确认失败。
var (
	// ErrInsufficientStock 请求数量超过已知库存，属于普通业务拒绝，不自动重试
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrLockContention 商品锁被其他操作持有，属于瞬时冲突，调用方可在更高层重试
	ErrLockContention = errors.New("stock lock held by another operation")

	// ErrProductNotFound 商品不存在或已删除
	ErrProductNotFound = errors.New("product not found")

	// ErrConfirmFailed 持久层条件更新影响 0 行（reserve 与 confirm 之间库存被耗尽）
	ErrConfirmFailed = errors.New("stock confirmation failed")
)
