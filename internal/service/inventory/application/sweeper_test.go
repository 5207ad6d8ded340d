package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

func TestReservationSweeper_ExpiresStaleOrders(t *testing.T) {
	f := newFixture(t, nil, defaultOptions())
	ctx := context.Background()
	a := f.seed(t, 10)
	stale, other := uuid.New(), uuid.New()

	ok, err := f.svc.ValidateAndReserve(ctx, stale, []domain.OrderLine{line(a, 3)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.ValidateAndReserve(ctx, other, []domain.OrderLine{line(a, 2)})
	require.NoError(t, err)
	require.True(t, ok)

	// TTL 未到，不过期
	sweeper := NewReservationSweeper(f.svc, 15*time.Minute, time.Minute)
	sweeper.now = func() time.Time { return time.Now().Add(15*time.Minute - time.Second) }
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Empty(t, f.rows(t, stale))
	assert.Equal(t, 10, f.available(t, a))
	st, err := f.store.Settlements().FindByOrder(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeExpired, st.Outcome)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.svc.metrics.swept))

	// 过期后迟到的支付成功不扣减库存，也不能再次预占
	require.NoError(t, f.svc.Finalize(ctx, stale))
	assert.Equal(t, 10, f.quantity(t, a))
	ok, err = f.svc.ValidateAndReserve(ctx, stale, []domain.OrderLine{line(a, 3)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReservationSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, defaultOptions())
	sweeper := NewReservationSweeper(f.svc, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
