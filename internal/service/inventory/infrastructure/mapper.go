package infrastructure

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// ToDomainProduct 将数据库模型转换为领域模型
func ToDomainProduct(model *ProductModel) (*domain.Product, error) {
	id, err := uuid.Parse(model.ProductID)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt product id %q", model.ProductID)
	}
	return &domain.Product{
		ProductID:   id,
		Quantity:    model.Quantity,
		LastUpdated: model.LastUpdated,
	}, nil
}

// FromDomainProduct 将领域模型转换为数据库模型
func FromDomainProduct(p *domain.Product) *ProductModel {
	return &ProductModel{
		ProductID:   p.ProductID.String(),
		Quantity:    p.Quantity,
		LastUpdated: p.LastUpdated.UTC(),
	}
}

func ToDomainReservation(model *ReservationModel) (*domain.Reservation, error) {
	orderID, err := uuid.Parse(model.OrderID)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt order id %q", model.OrderID)
	}
	productID, err := uuid.Parse(model.ProductID)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt product id %q", model.ProductID)
	}
	return &domain.Reservation{
		ID:               model.ID,
		OrderID:          orderID,
		ProductID:        productID,
		ReservedQuantity: model.ReservedQuantity,
		CreatedAt:        model.CreatedAt,
	}, nil
}

// FromDomainReservation 时间统一存为 UTC，便于按时间比较
func FromDomainReservation(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:               r.ID,
		OrderID:          r.OrderID.String(),
		ProductID:        r.ProductID.String(),
		ReservedQuantity: r.ReservedQuantity,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func ToDomainSettlement(model *SettlementModel) (*domain.Settlement, error) {
	orderID, err := uuid.Parse(model.OrderID)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt order id %q", model.OrderID)
	}
	return &domain.Settlement{
		OrderID:   orderID,
		Outcome:   domain.Outcome(model.Outcome),
		SettledAt: model.SettledAt,
	}, nil
}

func FromDomainSettlement(s *domain.Settlement) *SettlementModel {
	return &SettlementModel{
		OrderID:   s.OrderID.String(),
		Outcome:   string(s.Outcome),
		SettledAt: s.SettledAt.UTC(),
	}
}
