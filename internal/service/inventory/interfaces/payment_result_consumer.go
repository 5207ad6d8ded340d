package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/mq"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

const commitTimeout = 5 * time.Second

// MessageReader 是 kafka.Reader 的子集
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentResultHandler 由应用服务实现
type PaymentResultHandler interface {
	HandlePaymentResult(ctx context.Context, event *domain.PaymentResultEvent) error
}

// PaymentResultConsumerAdapter 是一个驱动适配器，它监听支付结果消息并驱动应用服务。
// 处理完成（成功或转入死信）后才提交 offset，因此崩溃后会重新投递。
type PaymentResultConsumerAdapter struct {
	reader      MessageReader
	appSvc      PaymentResultHandler
	failures    *mq.FailureHandler
	maxAttempts int
	backoff     time.Duration
	tracer      trace.Tracer
}

// NewPaymentResultConsumerAdapter 创建一个新的Kafka消费者适配器。
func NewPaymentResultConsumerAdapter(reader MessageReader, appSvc PaymentResultHandler, failures *mq.FailureHandler, maxAttempts int) *PaymentResultConsumerAdapter {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &PaymentResultConsumerAdapter{
		reader:      reader,
		appSvc:      appSvc,
		failures:    failures,
		maxAttempts: maxAttempts,
		backoff:     200 * time.Millisecond,
		tracer:      otel.Tracer("payment-result-consumer"),
	}
}

// Run 开始监听Kafka主题，阻塞直到 ctx 取消。
func (a *PaymentResultConsumerAdapter) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ Payment result consumer started.")
	for {
		// 我们使用FetchMessage而不是ReadMessage，以便手动控制提交时机
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Payment result consumer shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if !a.processMessage(ctx, msg) {
			// 只有关停时才会走到这里，不提交，重启后重新投递
			return nil
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := a.reader.CommitMessages(commitCtx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
		cancel()
	}
}

// Close 关闭底层 reader
func (a *PaymentResultConsumerAdapter) Close() error {
	return a.reader.Close()
}

// processMessage 返回 true 表示消息已处理完毕（包括转入死信），可以提交
func (a *PaymentResultConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) bool {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := a.tracer.Start(ctx, "consumer.PaymentResult", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("topic", msg.Topic).Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	var event domain.PaymentResultEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Undecodable payment result")
		log.Error().Err(err).Msg("failed to unmarshal payment result, sending to DLT")
		return a.deadLetter(ctx, msg, errors.Wrap(err, "unmarshal payment result"), 0)
	}

	var err error
	attempt := 0
	for attempt < a.maxAttempts {
		attempt++
		if err = a.appSvc.HandlePaymentResult(ctx, &event); err == nil {
			return true
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("order_id", event.OrderID.String()).Msg("failed to handle payment result")
		if errors.Is(err, domain.ErrInvalidOrder) {
			break // 重试也不会成功
		}
		if attempt < a.maxAttempts && !sleepCtx(ctx, a.backoff*time.Duration(attempt)) {
			return false
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "Payment result handling exhausted")
	return a.deadLetter(ctx, msg, err, attempt)
}

// deadLetter 一直重试写入 DLT，直到成功或关停，避免后续提交越过这条消息
func (a *PaymentResultConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) bool {
	for {
		err := a.failures.Handle(ctx, msg, cause, attempts)
		if err == nil {
			return true
		}
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish to DLT, retrying")
		if !sleepCtx(ctx, a.backoff) {
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
