package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// ProductDTO 是商品的对外表示。查询单个商品时 Quantity 为可用库存
type ProductDTO struct {
	ProductID   uuid.UUID `json:"productId"`
	Quantity    int       `json:"quantity"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// OrderLineDTO 是预占请求中的一行
type OrderLineDTO struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// ReserveRequest 是 /inventory/validate 的请求体
type ReserveRequest struct {
	OrderID  uuid.UUID      `json:"orderId"`
	Products []OrderLineDTO `json:"products"`
}

// Lines 转换为领域层的订单行
func (r *ReserveRequest) Lines() []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(r.Products))
	for _, p := range r.Products {
		lines = append(lines, domain.OrderLine{ProductID: p.ProductID, Quantity: p.Quantity})
	}
	return lines
}

func toProductDTO(p *domain.Product) *ProductDTO {
	return &ProductDTO{ProductID: p.ProductID, Quantity: p.Quantity, LastUpdated: p.LastUpdated}
}
