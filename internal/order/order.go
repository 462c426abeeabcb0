package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	orderDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/order"
)

const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusCompleted = "completed"

	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

type Order struct {
	ID              int64           `json:"id"`
	CustomerName    string          `json:"customer_name"`
	ShippingAddress string          `json:"shipping_address"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	UserID          *int64          `json:"user_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Repository is the order store consumed by the reconciler.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Order, error)
	// UpdateLocked loads the order under a row lock, lets apply change it and
	// saves it, all in one transaction. apply receives a context bound to that
	// transaction. Writers in other processes wait for the lock.
	UpdateLocked(ctx context.Context, id int64, apply func(ctx context.Context, o *Order) error) (*Order, error)
}

// NewOrder starts an order in pending/unpaid; those are the only statuses set outside ApplyCollected.
func NewOrder(customerName, shippingAddress string, total decimal.Decimal, userID *int64) *Order {
	now := time.Now()
	return &Order{
		CustomerName:    customerName,
		ShippingAddress: shippingAddress,
		Status:          StatusPending,
		PaymentStatus:   PaymentStatusUnpaid,
		TotalAmount:     total,
		UserID:          userID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsSettled reports whether the order is fully paid.
func (o *Order) IsSettled() bool {
	return o.Status == StatusCompleted || o.PaymentStatus == PaymentStatusPaid
}

// OwnedBy reports whether userID may act on the order. Guest orders are open to everyone.
func (o *Order) OwnedBy(userID int64) bool {
	if o.UserID == nil {
		return true
	}
	return *o.UserID == userID
}

// ApplyCollected derives status and payment status from the collected amount.
// A settled order is never downgraded. UpdatedAt is refreshed on every evaluation.
func (o *Order) ApplyCollected(collected decimal.Decimal, now time.Time) bool {
	prevStatus, prevPayment := o.Status, o.PaymentStatus
	o.UpdatedAt = now

	if o.IsSettled() {
		return false
	}

	total := o.TotalAmount
	switch {
	case total.IsPositive() && collected.GreaterThanOrEqual(total):
		o.Status = StatusCompleted
		o.PaymentStatus = PaymentStatusPaid
	case collected.IsPositive() && collected.LessThan(total):
		o.Status = StatusPartial
		o.PaymentStatus = PaymentStatusPartial
	}

	return o.Status != prevStatus || o.PaymentStatus != prevPayment
}

func ToDataModel(o *Order) *orderDatamodel.Order {
	return &orderDatamodel.Order{
		ID:              o.ID,
		CustomerName:    o.CustomerName,
		ShippingAddress: o.ShippingAddress,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		TotalAmount:     o.TotalAmount,
		UserID:          o.UserID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func FromDataModel(o *orderDatamodel.Order) *Order {
	return &Order{
		ID:              o.ID,
		CustomerName:    o.CustomerName,
		ShippingAddress: o.ShippingAddress,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		TotalAmount:     o.TotalAmount,
		UserID:          o.UserID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
