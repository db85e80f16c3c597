// Package logger 在 zerolog 之上提供带 trace_id 的上下文日志。
package logger

import (
	"context"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"stockhub/internal/pkg/tracing"
)

// Init 配置全局 logger，所有服务在启动时调用一次。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.With().Str("service", serviceName).Logger()
}

// WithTraceContext 从请求上下文提取 trace_id，构造一个携带它的
// logger 并塞回 context，之后下游统一用 Ctx(ctx) 取用。
func WithTraceContext(ctx context.Context) context.Context {
	traceID := tracing.GetTraceIDFromContext(ctx)
	l := zlog.With().Str("trace_id", traceID).Logger()
	return l.WithContext(ctx)
}

// Ctx 返回 context 中的 logger；没有注入过就退回全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	return zlog.Ctx(ctx)
}
