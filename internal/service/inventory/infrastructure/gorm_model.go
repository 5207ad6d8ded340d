package infrastructure

import "time"

// ProductModel 对应数据库中的 product 表
type ProductModel struct {
	ProductID   string `gorm:"primaryKey;type:char(36)"`
	Quantity    int    `gorm:"not null"`
	LastUpdated time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "product"
}

// ReservationModel 对应数据库中的 reservation 表，一行对应一个订单行的预占
type ReservationModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	OrderID          string    `gorm:"type:char(36);not null;index"`
	ProductID        string    `gorm:"type:char(36);not null;index"`
	ReservedQuantity int       `gorm:"not null"`
	CreatedAt        time.Time `gorm:"index"`
}

func (ReservationModel) TableName() string {
	return "reservation"
}

// SettlementModel 对应 order_settlement 表，主键保证每个订单只有一条结算记录
type SettlementModel struct {
	OrderID   string `gorm:"primaryKey;type:char(36)"`
	Outcome   string `gorm:"type:varchar(16);not null"`
	SettledAt time.Time
}

func (SettlementModel) TableName() string {
	return "order_settlement"
}
