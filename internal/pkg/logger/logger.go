package logger

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup 配置全局 zerolog，服务名会作为固定字段出现在每一条日志里。
func Setup(serviceName, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回与 context 绑定的 logger。
// 如果 context 中没有 logger，就退回到全局 logger；如果 context 中带有 span，则附加 trace_id。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l == nil || l.GetLevel() == zerolog.Disabled {
		l = &zlog.Logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return l
	}
	withTrace := l.With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return &withTrace
}

// WithContext 将 logger 存入 context，供下游 handler 通过 Ctx 取出
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}
