package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
)

// Producer 是 kafka.Writer 的最小子集，便于在测试中替换
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FailureHandler 负责把处理失败的消息转投到死信主题（DLT）。
// 转投成功后调用方即可提交原消息的 offset。
type FailureHandler struct {
	producer Producer
	dltTopic string
}

func NewFailureHandler(producer Producer, dltTopic string) *FailureHandler {
	return &FailureHandler{producer: producer, dltTopic: dltTopic}
}

// Handle 将原消息连同失败原因写入 DLT
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error, attempts int) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+6)
	headers = append(headers, msg.Headers...)
	carrier := KafkaHeaderCarrier(headers)
	carrier.Set(HeaderOriginalTopic, msg.Topic)
	carrier.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	carrier.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	carrier.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", errors.Cause(cause)))
	carrier.Set(HeaderExceptionMessage, cause.Error())
	carrier.Set(HeaderAttempts, strconv.Itoa(attempts))

	dead := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: carrier,
	}
	// writer 不绑定主题，由消息指定目标
	dead.Topic = h.dltTopic

	if err := h.producer.WriteMessages(ctx, dead); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Int64("original_offset", msg.Offset).
			Msg("failed to publish message to DLT")
		return errors.Wrapf(err, "publish to dlt %s", h.dltTopic)
	}

	logger.Ctx(ctx).Warn().
		Str("dlt_topic", h.dltTopic).
		Str("original_topic", msg.Topic).
		Int64("original_offset", msg.Offset).
		Str("cause", cause.Error()).
		Msg("⚠️ message moved to DLT")
	return nil
}
