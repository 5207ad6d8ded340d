package domain

import "github.com/google/uuid"

// PaymentResultEvent 是支付服务发布的支付结果事件
type PaymentResultEvent struct {
	OrderID    uuid.UUID `json:"orderId"`
	Successful bool      `json:"successful"`
}
