// internal/service/order/domain/port/notification.go
package port

import (
	"context"

	"mall/internal/service/order/domain"
)

// NotificationProducer 把订单事件发布给下游（消息队列）。
type NotificationProducer interface {
	PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error
	Close() error
}
