package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome 是订单预占的最终结局
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED" // 支付成功，已扣减库存
	OutcomeFailed    Outcome = "FAILED"    // 支付失败，已释放预占
	OutcomeExpired   Outcome = "EXPIRED"   // 超时未收到支付结果，已释放预占
)

// Settlement 是订单的幂等结算标记，与结算动作在同一事务中写入，先写者胜
type Settlement struct {
	OrderID   uuid.UUID
	Outcome   Outcome
	SettledAt time.Time
}

func NewSettlement(orderID uuid.UUID, outcome Outcome) *Settlement {
	return &Settlement{OrderID: orderID, Outcome: outcome, SettledAt: time.Now()}
}
