package port

import (
	"context"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// AdmissionPolicy 在加锁前决定订单行是否允许预占
type AdmissionPolicy interface {
	Allow(ctx context.Context, lines []domain.OrderLine) (bool, error)
}
