// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"

	"github.com/segmentio/kafka-go"

	"mall/internal/pkg/logger"
)

// FailureHandler 把处理失败的消息移交到死信主题（DLT），
// 保证消费位点可以继续推进而不丢失失败现场。
type FailureHandler struct {
	dltWriter *kafka.Writer
}

// NewFailureHandler 为指定死信主题创建一个处理器。
func NewFailureHandler(brokers []string, dltTopic string) *FailureHandler {
	return &FailureHandler{
		dltWriter: NewKafkaWriter(brokers, dltTopic),
	}
}

// Handle 将原始消息连同失败原因写入死信主题。
// 写入死信失败只能记录日志，由运维介入，不能阻塞消费循环。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dltMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers, kafka.Header{
			Key:   "x-failure-reason",
			Value: []byte(cause.Error()),
		}),
	}
	InjectTraceContext(ctx, &dltMsg.Headers)

	if err := h.dltWriter.WriteMessages(ctx, dltMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_error", cause.Error()).
			Msg("CRITICAL: failed to write message to DLT")
	}
}

// Close 关闭死信 writer。
func (h *FailureHandler) Close() error {
	return h.dltWriter.Close()
}
