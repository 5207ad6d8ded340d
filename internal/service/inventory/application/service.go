package application

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/logger"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain/port"
)

// Options 控制加锁和预占的时间边界
type Options struct {
	LockWait       time.Duration
	LockHold       time.Duration
	ReserveTimeout time.Duration
}

// InventoryApplicationService 负责预占与结算的流程编排。
type InventoryApplicationService struct {
	store   domain.Store
	locks   port.LockService
	policy  port.AdmissionPolicy
	tracer  trace.Tracer
	metrics *Metrics
	opts    Options
}

func NewInventoryApplicationService(store domain.Store, locks port.LockService, policy port.AdmissionPolicy, tracer trace.Tracer, metrics *Metrics, opts Options) *InventoryApplicationService {
	return &InventoryApplicationService{
		store: store, locks: locks, policy: policy,
		tracer: tracer, metrics: metrics, opts: opts}
}

func orderLockKey(orderID uuid.UUID) string   { return "order:" + orderID.String() }
func stockLockKey(productID uuid.UUID) string { return "stock:" + productID.String() }

// stockLockKeys 去重并按字典序排列，所有调用方共享同一加锁顺序
func stockLockKeys(productIDs []uuid.UUID) []string {
	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, stockLockKey(id))
	}
	sort.Strings(keys)
	return keys
}

// GetProduct 返回商品，Quantity 为当前可用库存
func (s *InventoryApplicationService) GetProduct(ctx context.Context, productID uuid.UUID) (*ProductDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetProduct", trace.WithAttributes(attribute.String("product.id", productID.String())))
	defer span.End()

	product, err := s.store.Products().FindByID(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	reserved, err := s.store.Reservations().SumByProduct(ctx, productID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to sum reservations")
		return nil, err
	}
	product.Quantity = domain.AvailableStock(product.Quantity, reserved)
	return toProductDTO(product), nil
}

// SaveProduct 新建或覆盖商品库存，ProductID 为空时生成新的
func (s *InventoryApplicationService) SaveProduct(ctx context.Context, dto *ProductDTO) (*ProductDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.SaveProduct")
	defer span.End()

	product := &domain.Product{ProductID: dto.ProductID, Quantity: dto.Quantity, LastUpdated: time.Now()}
	if product.ProductID == uuid.Nil {
		product.ProductID = uuid.New()
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Products().Save(ctx, product); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save product")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("product_id", product.ProductID.String()).Int("quantity", product.Quantity).Msg("product saved")
	return toProductDTO(product), nil
}

// ListProducts 返回所有商品的实际库存
func (s *InventoryApplicationService) ListProducts(ctx context.Context) ([]ProductDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListProducts")
	defer span.End()

	products, err := s.store.Products().FindAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]ProductDTO, 0, len(products))
	for i := range products {
		out = append(out, *toProductDTO(&products[i]))
	}
	return out, nil
}

// ValidateAndReserve 为订单原子地预占所有订单行。
// 业务失败（库存不足、锁超时、商品不存在、订单已结算）返回 false 且不留下任何预占；
// 只有回滚失败才返回 error。
func (s *InventoryApplicationService) ValidateAndReserve(ctx context.Context, orderID uuid.UUID, lines []domain.OrderLine) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "app.ValidateAndReserve", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.Int("order.lines", len(lines)),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", orderID.String()).Logger()

	if err := domain.ValidateLines(orderID, lines); err != nil {
		log.Warn().Err(err).Msg("reservation request rejected")
		s.reject(span, "invalid")
		return false, nil
	}
	allowed, err := s.policy.Allow(ctx, lines)
	if err != nil || !allowed {
		log.Warn().Err(err).Msg("reservation refused by admission policy")
		s.reject(span, "policy")
		return false, nil
	}

	if s.opts.ReserveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ReserveTimeout)
		defer cancel()
	}

	totals := domain.TotalsByProduct(lines)
	keys := append([]string{orderLockKey(orderID)}, stockLockKeys(keysOf(totals))...)

	// 1. 按统一顺序获取全部锁，任何退出路径都会释放
	leases, err := s.acquireAll(ctx, keys)
	defer func() { s.releaseAll(ctx, leases) }()
	if err != nil {
		log.Warn().Err(err).Msg("could not acquire lock set")
		s.reject(span, "lock_timeout")
		return false, nil
	}

	// 2. 已结算的订单不再接受预占
	if st, err := s.store.Settlements().FindByOrder(ctx, orderID); err == nil {
		refused := errors.Wrapf(domain.ErrOrderSettled, "order %s settled as %s", orderID, st.Outcome)
		log.Warn().Err(refused).Msg("late reservation refused")
		s.reject(span, reasonOf(refused))
		return false, nil
	} else if !errors.Is(err, domain.ErrSettlementNotFound) {
		log.Error().Err(err).Msg("failed to read settlement")
		s.reject(span, "error")
		return false, nil
	}

	// 3. 重复请求：已有预占与请求一致即视为成功，不做任何改动
	existing, err := s.store.Reservations().ListByOrder(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list existing reservations")
		s.reject(span, "error")
		return false, nil
	}
	if len(existing) > 0 {
		same := maps.Equal(domain.ReservedTotals(existing), totals)
		log.Info().Bool("matches", same).Msg("order already has reservations")
		if same {
			s.metrics.observeReservation("accepted", "duplicate")
			return true, nil
		}
		s.reject(span, "conflict")
		return false, nil
	}

	// 4. 校验并写入，失败时删除该订单的全部预占
	if err := s.reserveLocked(ctx, orderID, lines, totals, leases); err != nil {
		s.reject(span, reasonOf(err))
		if errors.Is(err, domain.ErrLockTimeout) {
			// 事务已回滚；锁已失效，不能再按订单删除，否则可能删掉新持锁者写入的预占
			log.Warn().Err(err).Msg("lock lease expired before commit, reservation discarded")
			return false, nil
		}
		log.Warn().Err(err).Msg("reservation failed, rolling back")
		if _, rbErr := s.store.Reservations().DeleteByOrder(context.WithoutCancel(ctx), orderID); rbErr != nil {
			span.RecordError(rbErr)
			span.SetStatus(codes.Error, "Failed to roll back reservations")
			log.Error().Err(rbErr).Msg("🚨 rollback of reservations failed")
			return false, errors.Wrapf(rbErr, "rollback reservations of order %s", orderID)
		}
		return false, nil
	}

	log.Info().Int("products", len(totals)).Msg("✅ stock reserved")
	span.AddEvent("Stock reserved.")
	s.metrics.observeReservation("accepted", "reserved")
	return true, nil
}

func (s *InventoryApplicationService) reserveLocked(ctx context.Context, orderID uuid.UUID, lines []domain.OrderLine, totals map[uuid.UUID]int, leases []*port.Lease) error {
	for productID, requested := range totals {
		product, err := s.store.Products().FindByID(ctx, productID)
		if err != nil {
			return errors.Wrapf(err, "product %s", productID)
		}
		reserved, err := s.store.Reservations().SumByProduct(ctx, productID)
		if err != nil {
			return err
		}
		available := domain.AvailableStock(product.Quantity, reserved)
		if requested > available {
			return errors.Wrapf(domain.ErrInsufficientStock, "product %s: requested %d, available %d", productID, requested, available)
		}
	}

	now := time.Now()
	return s.store.WithinTx(ctx, func(tx domain.Store) error {
		for _, l := range lines {
			if err := tx.Reservations().Insert(ctx, &domain.Reservation{
				OrderID:          orderID,
				ProductID:        l.ProductID,
				ReservedQuantity: l.Quantity,
				CreatedAt:        now,
			}); err != nil {
				return err
			}
		}
		return checkLeases(leases, time.Now())
	})
}

// Finalize 支付成功：扣减库存并删除预占
func (s *InventoryApplicationService) Finalize(ctx context.Context, orderID uuid.UUID) error {
	return s.settle(ctx, orderID, domain.OutcomeSucceeded)
}

// Compensate 支付失败：只删除预占
func (s *InventoryApplicationService) Compensate(ctx context.Context, orderID uuid.UUID) error {
	return s.settle(ctx, orderID, domain.OutcomeFailed)
}

// Expire 超时未收到支付结果：删除预占，结局记为 EXPIRED
func (s *InventoryApplicationService) Expire(ctx context.Context, orderID uuid.UUID) error {
	return s.settle(ctx, orderID, domain.OutcomeExpired)
}

// HandlePaymentResult 是支付结果事件的业务处理入口。
func (s *InventoryApplicationService) HandlePaymentResult(ctx context.Context, event *domain.PaymentResultEvent) error {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentResult", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if event == nil || event.OrderID == uuid.Nil {
		span.SetStatus(codes.Error, "Invalid payment result")
		return domain.ErrInvalidOrder
	}
	span.SetAttributes(attribute.String("order.id", event.OrderID.String()), attribute.Bool("payment.successful", event.Successful))
	if event.Successful {
		return s.Finalize(ctx, event.OrderID)
	}
	return s.Compensate(ctx, event.OrderID)
}

// settle 在订单锁和相关商品锁下，用一个事务完成扣减/删除/写结算标记。
// 重复投递时预占已不存在，不会重复扣减。
func (s *InventoryApplicationService) settle(ctx context.Context, orderID uuid.UUID, outcome domain.Outcome) error {
	ctx, span := s.tracer.Start(ctx, "app.Settle", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("settlement.outcome", string(outcome)),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", orderID.String()).Str("outcome", string(outcome)).Logger()

	fail := func(err error, msg string) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		log.Error().Err(err).Msg(msg)
		return err
	}

	leases, err := s.acquireAll(ctx, []string{orderLockKey(orderID)})
	defer func() { s.releaseAll(ctx, leases) }()
	if err != nil {
		return fail(errors.Wrapf(err, "lock order %s", orderID), "Failed to lock order")
	}

	rows, err := s.store.Reservations().ListByOrder(ctx, orderID)
	if err != nil {
		return fail(err, "Failed to list reservations")
	}
	productIDs := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		productIDs = append(productIDs, r.ProductID)
	}
	more, err := s.acquireAll(ctx, stockLockKeys(productIDs))
	leases = append(leases, more...)
	if err != nil {
		return fail(errors.Wrapf(err, "lock products of order %s", orderID), "Failed to lock products")
	}

	applied := 0
	err = s.store.WithinTx(ctx, func(tx domain.Store) error {
		rows, err := tx.Reservations().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			prev, err := tx.Settlements().FindByOrder(ctx, orderID)
			switch {
			case err == nil:
				if prev.Outcome != outcome {
					log.Warn().Str("settled_as", string(prev.Outcome)).Msg("⚠️ order already settled with a different outcome, ignoring")
				}
				return nil
			case !errors.Is(err, domain.ErrSettlementNotFound):
				return err
			}
			if err := tx.Settlements().Save(ctx, domain.NewSettlement(orderID, outcome)); err != nil {
				return err
			}
			return checkLeases(leases, time.Now())
		}

		if outcome == domain.OutcomeSucceeded {
			for _, r := range rows {
				if err := tx.Products().DeductQuantity(ctx, r.ProductID, r.ReservedQuantity); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Reservations().DeleteByOrder(ctx, orderID); err != nil {
			return err
		}
		applied = len(rows)
		if err := tx.Settlements().Save(ctx, domain.NewSettlement(orderID, outcome)); err != nil {
			return err
		}
		return checkLeases(leases, time.Now())
	})
	if err != nil {
		return fail(errors.Wrapf(err, "settle order %s", orderID), "Failed to settle order")
	}

	s.metrics.observeSettlement(string(outcome), applied > 0)
	if applied == 0 {
		log.Info().Msg("no open reservations, nothing to settle")
		return nil
	}
	log.Info().Int("reservations", applied).Msg("✅ order settled")
	span.AddEvent("Order settled.")
	return nil
}

// acquireAll 按给定顺序加锁，出错时返回已获得的锁供调用方释放
func (s *InventoryApplicationService) acquireAll(ctx context.Context, keys []string) ([]*port.Lease, error) {
	start := time.Now()
	leases := make([]*port.Lease, 0, len(keys))
	for _, key := range keys {
		lease, err := s.locks.TryAcquire(ctx, key, s.opts.LockWait, s.opts.LockHold)
		if err != nil {
			return leases, err
		}
		leases = append(leases, lease)
	}
	s.metrics.observeLockWait(time.Since(start).Seconds())
	return leases, nil
}

// releaseAll 逆序释放，不受调用方取消影响
func (s *InventoryApplicationService) releaseAll(ctx context.Context, leases []*port.Lease) {
	ctx = context.WithoutCancel(ctx)
	for i := len(leases) - 1; i >= 0; i-- {
		if err := s.locks.Release(ctx, leases[i]); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("key", leases[i].Key).Msg("failed to release lock")
		}
	}
}

// checkLeases 在提交前确认所有锁仍在租期内，任一过期即返回 ErrLockTimeout 使事务回滚
func checkLeases(leases []*port.Lease, now time.Time) error {
	for _, l := range leases {
		if !now.Before(l.ExpiresAt) {
			return errors.Wrapf(domain.ErrLockTimeout, "lease on %s expired at %s", l.Key, l.ExpiresAt.Format(time.RFC3339Nano))
		}
	}
	return nil
}

func (s *InventoryApplicationService) reject(span trace.Span, reason string) {
	span.SetAttributes(attribute.String("reservation.rejected", reason))
	s.metrics.observeReservation("rejected", reason)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_expired"
	case errors.Is(err, domain.ErrOrderSettled):
		return "settled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func keysOf(totals map[uuid.UUID]int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	return ids
}
