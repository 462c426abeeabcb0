package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID              int64           `gorm:"primaryKey"`
	CustomerName    string          `gorm:"column:customer_name"`
	ShippingAddress string          `gorm:"column:shipping_address"`
	Status          string          `gorm:"column:status;not null;default:pending"`
	PaymentStatus   string          `gorm:"column:payment_status;not null;default:unpaid"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:decimal(20,2);not null"`
	UserID          *int64          `gorm:"column:user_id"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
