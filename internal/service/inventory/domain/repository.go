package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProductRepository 定义了库存的持久化接口。
// 它位于领域层，但由基础设施层实现。
type ProductRepository interface {
	// FindByID 不存在时返回 ErrProductNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Product, error)
	FindAll(ctx context.Context) ([]Product, error)
	// Save 按 ProductID 新建或覆盖
	Save(ctx context.Context, product *Product) error
	// DeductQuantity 原子扣减，不校验结果是否为负
	DeductQuantity(ctx context.Context, id uuid.UUID, amount int) error
}

type ReservationRepository interface {
	Insert(ctx context.Context, r *Reservation) error
	SumByProduct(ctx context.Context, productID uuid.UUID) (int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Reservation, error)
	// DeleteByOrder 删除订单的全部预占，返回删除行数
	DeleteByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	// ListOrdersCreatedBefore 返回存在早于 before 的预占的订单
	ListOrdersCreatedBefore(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

type SettlementRepository interface {
	// FindByOrder 不存在时返回 ErrSettlementNotFound
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*Settlement, error)
	// Save 已存在时保持原记录不变
	Save(ctx context.Context, s *Settlement) error
}

// Store 聚合三个仓储，WithinTx 中的 fn 拿到的是绑定同一事务的 Store
type Store interface {
	Products() ProductRepository
	Reservations() ReservationRepository
	Settlements() SettlementRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
