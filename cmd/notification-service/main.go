// cmd/notification-service/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"
	"mall/internal/service/order/domain"
)

const (
	serviceName     = "notification-service"
	servicePort     = 8086
	consumerGroupID = "notification-group"
)

var tracer = otel.Tracer(serviceName)

// main 启动通知服务：消费订单事件并向用户发送通知。
// 处理失败的消息进入死信主题，消费位点照常推进。
func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		BackgroundTasks: []func(ctx context.Context) error{
			runConsumer,
		},
	})
}

func runConsumer(ctx context.Context) error {
	cfg := bootstrap.GetCurrentConfig()

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderEventsTopic, consumerGroupID)
	defer reader.Close()

	failures := mq.NewFailureHandler(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DLTTopic)
	defer failures.Close()

	logger.Logger.Info().
		Str("topic", cfg.Infra.Kafka.OrderEventsTopic).
		Str("group", consumerGroupID).
		Msg("notification consumer started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch message")
			continue
		}

		if err := processOrderEvent(ctx, msg); err != nil {
			failures.Handle(ctx, msg, err)
		}
		// 成功或已移交死信，位点都要推进
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit offset")
		}
	}
}

// processOrderEvent 按事件类型渲染并发送用户通知。
func processOrderEvent(ctx context.Context, msg kafka.Message) error {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := tracer.Start(ctx, "notification.ProcessOrderEvent",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
	defer span.End()

	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unmarshal failed")
		return err
	}
	span.SetAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("order.number", event.OrderNumber),
	)

	var message string
	switch event.Type {
	case domain.EventOrderCreated:
		message = "您的订单已创建，请在 30 分钟内完成支付"
	case domain.EventOrderPaid:
		message = "支付成功，商家正在备货"
	case domain.EventOrderCancelled, domain.EventOrderTimeoutCancelled:
		message = "您的订单已取消"
	case domain.EventPaymentFailed:
		message = "支付未成功，请重新发起支付"
	default:
		// 未知事件直接跳过，不算失败
		logger.Ctx(ctx).Warn().Str("event_type", event.Type).Msg("unknown order event type, skipping")
		return nil
	}

	// 模拟推送渠道的耗时
	time.Sleep(20 * time.Millisecond)
	logger.Ctx(ctx).Info().
		Int64("user_id", event.UserID).
		Str("order_number", event.OrderNumber).
		Str("message", message).
		Msg("notification sent")
	span.AddEvent("notification sent")
	return nil
}
