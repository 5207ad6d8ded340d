package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// MaxQuantity 是单个商品库存以及一个订单对单个商品请求总量的上限
const MaxQuantity = math.MaxInt32

// Product 是库存聚合的根实体，Quantity 为实际拥有的总件数
type Product struct {
	ProductID   uuid.UUID
	Quantity    int
	LastUpdated time.Time // 仅供参考，不参与一致性判断
}

// Validate 校验管理端写入的商品
func (p *Product) Validate() error {
	if p.Quantity < 0 || p.Quantity > MaxQuantity {
		return ErrInvalidProduct
	}
	return nil
}

// Reservation 是某个订单行对库存的临时占用
type Reservation struct {
	ID               int64
	OrderID          uuid.UUID
	ProductID        uuid.UUID
	ReservedQuantity int
	CreatedAt        time.Time
}

// OrderLine 是预占请求中的一行
type OrderLine struct {
	ProductID uuid.UUID
	Quantity  int
}

// AvailableStock 计算可用库存：总量减去所有未结算预占
func AvailableStock(quantity, reserved int) int {
	return quantity - reserved
}

// TotalsByProduct 按商品汇总数量，同一商品出现多行时合并。
// 调用前应先通过 ValidateLines。
func TotalsByProduct(lines []OrderLine) map[uuid.UUID]int {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	return totals
}

// ReservedTotals 按商品汇总一个订单已有的预占
func ReservedTotals(rows []Reservation) map[uuid.UUID]int {
	totals := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		totals[r.ProductID] += r.ReservedQuantity
	}
	return totals
}

// ValidateLines 拒绝空订单号、空列表、空商品号和非正数量，
// 同一商品合并后的数量不得超过 MaxQuantity，保证 TotalsByProduct 不会溢出。
func ValidateLines(orderID uuid.UUID, lines []OrderLine) error {
	if orderID == uuid.Nil || len(lines) == 0 {
		return ErrInvalidOrder
	}
	totals := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		if l.ProductID == uuid.Nil || l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return ErrInvalidOrder
		}
		if totals[l.ProductID] > MaxQuantity-l.Quantity {
			return ErrInvalidOrder
		}
		totals[l.ProductID] += l.Quantity
	}
	return nil
}
