package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a row in bakong_payments. Rows are insert-only.
type Payment struct {
	ID             int64           `gorm:"primaryKey"`
	OrderID        int64           `gorm:"column:order_id;not null;index:idx_bakong_payments_order_created,priority:1"`
	Currency       string          `gorm:"column:currency;not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	QRString       *string         `gorm:"column:qr_string"`
	TransactionRef *string         `gorm:"column:transaction_ref;uniqueIndex"`
	Status         string          `gorm:"column:status;not null;default:pending"`
	CreatedAt      time.Time       `gorm:"column:created_at;index:idx_bakong_payments_order_created,priority:2"`
}

func (Payment) TableName() string {
	return "bakong_payments"
}
