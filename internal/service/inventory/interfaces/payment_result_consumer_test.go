package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/mq"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)+1)}
	for i, m := range msgs {
		m.Topic = "payment.result"
		m.Offset = int64(i)
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type dltProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *dltProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *dltProducer) written() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Message(nil), p.msgs...)
}

// stubHandler 对每个订单按预设错误序列返回
type stubHandler struct {
	mu     sync.Mutex
	errs   map[uuid.UUID][]error
	calls  map[uuid.UUID]int
	events []domain.PaymentResultEvent
}

func newStubHandler() *stubHandler {
	return &stubHandler{errs: map[uuid.UUID][]error{}, calls: map[uuid.UUID]int{}}
}

func (h *stubHandler) HandlePaymentResult(_ context.Context, event *domain.PaymentResultEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[event.OrderID]++
	h.events = append(h.events, *event)
	if seq := h.errs[event.OrderID]; len(seq) > 0 {
		h.errs[event.OrderID] = seq[1:]
		return seq[0]
	}
	return nil
}

func (h *stubHandler) callCount(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

func paymentMessage(t *testing.T, orderID uuid.UUID, successful bool) kafka.Message {
	t.Helper()
	body, err := json.Marshal(domain.PaymentResultEvent{OrderID: orderID, Successful: successful})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderID.String()), Value: body}
}

func runConsumer(t *testing.T, reader *fakeReader, handler PaymentResultHandler, producer *dltProducer, expectCommits int) {
	t.Helper()
	consumer := NewPaymentResultConsumerAdapter(reader, handler, mq.NewFailureHandler(producer, "payment.result.dlt"), 3)
	consumer.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commitCount() == expectCommits }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestPaymentResultConsumer_HandlesAndCommits(t *testing.T) {
	paid, failed := uuid.New(), uuid.New()
	reader := newFakeReader(paymentMessage(t, paid, true), paymentMessage(t, failed, false))
	handler := newStubHandler()
	producer := &dltProducer{}

	runConsumer(t, reader, handler, producer, 2)

	require.Len(t, handler.events, 2)
	assert.Equal(t, domain.PaymentResultEvent{OrderID: paid, Successful: true}, handler.events[0])
	assert.Equal(t, domain.PaymentResultEvent{OrderID: failed, Successful: false}, handler.events[1])
	assert.Empty(t, producer.written())
}

func TestPaymentResultConsumer_RetriesTransientFailure(t *testing.T) {
	order := uuid.New()
	reader := newFakeReader(paymentMessage(t, order, true))
	handler := newStubHandler()
	handler.errs[order] = []error{errors.New("db hiccup")}
	producer := &dltProducer{}

	runConsumer(t, reader, handler, producer, 1)

	assert.Equal(t, 2, handler.callCount(order))
	assert.Empty(t, producer.written())
}

func TestPaymentResultConsumer_ExhaustedRetriesGoToDLT(t *testing.T) {
	order := uuid.New()
	reader := newFakeReader(paymentMessage(t, order, true))
	handler := newStubHandler()
	boom := errors.Wrap(domain.ErrLockTimeout, "key order:x")
	handler.errs[order] = []error{boom, boom, boom}
	producer := &dltProducer{}

	runConsumer(t, reader, handler, producer, 1)

	assert.Equal(t, 3, handler.callCount(order))
	dead := producer.written()
	require.Len(t, dead, 1)
	assert.Equal(t, "payment.result.dlt", dead[0].Topic)
	assert.Equal(t, "3", mq.HeaderValue(dead[0].Headers, mq.HeaderAttempts))
	assert.Equal(t, "payment.result", mq.HeaderValue(dead[0].Headers, mq.HeaderOriginalTopic))
	assert.Contains(t, mq.HeaderValue(dead[0].Headers, mq.HeaderExceptionMessage), "lock acquisition timed out")
}

func TestPaymentResultConsumer_InvalidOrderNotRetried(t *testing.T) {
	order := uuid.New()
	reader := newFakeReader(paymentMessage(t, order, true))
	handler := newStubHandler()
	handler.errs[order] = []error{domain.ErrInvalidOrder}
	producer := &dltProducer{}

	runConsumer(t, reader, handler, producer, 1)

	assert.Equal(t, 1, handler.callCount(order))
	assert.Len(t, producer.written(), 1)
}

func TestPaymentResultConsumer_PoisonMessage(t *testing.T) {
	reader := newFakeReader(kafka.Message{Value: []byte("{not json")})
	handler := newStubHandler()
	producer := &dltProducer{}

	runConsumer(t, reader, handler, producer, 1)

	assert.Empty(t, handler.events)
	dead := producer.written()
	require.Len(t, dead, 1)
	assert.Equal(t, "0", mq.HeaderValue(dead[0].Headers, mq.HeaderAttempts))
	assert.Equal(t, []byte("{not json"), dead[0].Value)
}

func TestDltConsumerAdapter_CommitsEveryMessage(t *testing.T) {
	reader := newFakeReader(kafka.Message{Value: []byte("x")}, kafka.Message{Value: []byte("y")})
	consumer := NewDltConsumerAdapter(reader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commitCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
