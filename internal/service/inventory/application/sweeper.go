package application

import (
	"context"
	"time"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// ReservationSweeper 定期释放超过 TTL 仍未收到支付结果的预占
type ReservationSweeper struct {
	svc          *InventoryApplicationService
	reservations domain.ReservationRepository
	ttl          time.Duration
	interval     time.Duration
	now          func() time.Time
}

func NewReservationSweeper(svc *InventoryApplicationService, ttl, interval time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		svc:          svc,
		reservations: svc.store.Reservations(),
		ttl:          ttl,
		interval:     interval,
		now:          time.Now,
	}
}

// Run 阻塞直到 ctx 取消
func (w *ReservationSweeper) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Dur("ttl", w.ttl).Dur("interval", w.interval).Msg("✅ Reservation sweeper started.")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Reservation sweeper shutting down.")
			return nil
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("reservation sweep failed")
			}
		}
	}
}

// SweepOnce 过期一轮，返回成功过期的订单数。单个订单失败不影响其他订单
func (w *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	orders, err := w.reservations.ListOrdersCreatedBefore(ctx, w.now().Add(-w.ttl))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, orderID := range orders {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if err := w.svc.Expire(ctx, orderID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID.String()).Msg("failed to expire order, will retry next sweep")
			continue
		}
		w.svc.metrics.observeSwept()
		expired++
	}
	if expired > 0 {
		logger.Ctx(ctx).Info().Int("orders", expired).Msg("expired stale reservations")
	}
	return expired, nil
}
