// internal/service/order/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"mall/internal/pkg/mq"
	"mall/internal/service/order/domain"
	"mall/internal/service/order/domain/port"
)

// KafkaNotificationProducer 把订单事件发布到 Kafka。
// 以订单号为 Key，同一订单的事件落在同一分区、保持顺序。
type KafkaNotificationProducer struct {
	writer *kafka.Writer
}

func NewKafkaNotificationProducer(brokers []string, topic string) *KafkaNotificationProducer {
	return &KafkaNotificationProducer{
		writer: mq.NewKafkaWriter(brokers, topic),
	}
}

var _ port.NotificationProducer = (*KafkaNotificationProducer)(nil)

func (p *KafkaNotificationProducer) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.OrderNumber), payload); err != nil {
		return errors.Wrapf(err, "publish %s for order %s", event.Type, event.OrderNumber)
	}
	return nil
}

func (p *KafkaNotificationProducer) Close() error {
	return p.writer.Close()
}
