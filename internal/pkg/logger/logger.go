// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是进程级的根 logger，由 Init 初始化。
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化根 logger，附加服务名字段。
// 每个服务在启动时调用一次。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个与追踪上下文关联的 logger。
// 如果 ctx 中存在有效的 Span，则自动附加 trace_id/span_id 字段，
// 便于在日志系统中与 Jaeger 链路互查。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return &Logger
	}
	l := Logger.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
