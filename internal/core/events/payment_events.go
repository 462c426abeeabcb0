package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentRecorded = "payment.recorded"
)

// PaymentRecordedEvent is raised once per newly stored success payment. Replays do not raise it.
type PaymentRecordedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	PaymentID      int64           `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TransactionRef string          `json:"transaction_ref"`
	Source         string          `json:"source"`
	Collected      decimal.Decimal `json:"collected"`
	Total          decimal.Decimal `json:"total"`
	OrderStatus    string          `json:"order_status"`
	PaymentStatus  string          `json:"payment_status"`
}

func NewPaymentRecordedEvent(orderID, paymentID int64, amount decimal.Decimal, currency, transactionRef, source string, collected, total decimal.Decimal, orderStatus, paymentStatus string) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRecorded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":        orderID,
				"payment_id":      paymentID,
				"amount":          amount.String(),
				"currency":        currency,
				"transaction_ref": transactionRef,
				"source":          source,
				"collected":       collected.String(),
				"total":           total.String(),
				"order_status":    orderStatus,
				"payment_status":  paymentStatus,
			},
		},
		OrderID:        orderID,
		PaymentID:      paymentID,
		Amount:         amount,
		Currency:       currency,
		TransactionRef: transactionRef,
		Source:         source,
		Collected:      collected,
		Total:          total,
		OrderStatus:    orderStatus,
		PaymentStatus:  paymentStatus,
	}
}
