package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/mq"
)

// DltConsumerAdapter 监听死信队列并记录日志
type DltConsumerAdapter struct {
	reader MessageReader
}

func NewDltConsumerAdapter(reader MessageReader) *DltConsumerAdapter {
	return &DltConsumerAdapter{reader: reader}
}

func (a *DltConsumerAdapter) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Msg("✅ DLT Consumer Adapter started.")
	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 DLT Consumer Adapter shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch dead letter")
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		// 记录死信消息详情
		logDeadLetter(ctx, msg)

		// DLT中的消息总是直接提交，因为它们已经被“处理”了（即记录日志）
		if err := a.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit dead letter")
		}
	}
}

func (a *DltConsumerAdapter) Close() error {
	return a.reader.Close()
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	// 使用结构化日志记录，便于后续分析
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage)).
		Str("attempts", mq.HeaderValue(msg.Headers, mq.HeaderAttempts)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
