package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	paymentDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/payment"
	"github.com/pickandplay/guitar-api/internal/khqr"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"

	CurrencyUSD = khqr.CurrencyUSD
	CurrencyKHR = khqr.CurrencyKHR
)

var (
	// ErrDuplicateTransaction reports a replayed transaction reference. It comes back
	// together with the payment that was recorded first and is not a failure.
	ErrDuplicateTransaction = errors.New("payment already recorded")
	ErrPaymentNotFound      = errors.New("payment not found")
)

type Payment struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"orderId"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	QRString       *string         `json:"qrString,omitempty"`
	TransactionRef *string         `json:"transactionRef,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Store persists payment rows. Rows are never updated once inserted.
type Store interface {
	// Insert returns ErrDuplicateTransaction when the transaction reference is taken.
	Insert(ctx context.Context, p *Payment) error
	// FindByTransactionRef returns ErrPaymentNotFound on a miss.
	FindByTransactionRef(ctx context.Context, ref string) (*Payment, error)
	// FindAllForOrder returns rows oldest first.
	FindAllForOrder(ctx context.Context, orderID int64) ([]*Payment, error)
}

// QRCodeProvider generates, checks and renders KHQR payloads.
type QRCodeProvider interface {
	GenerateForOrder(amount decimal.Decimal, currency, billNumber string) (string, error)
	Verify(qr string) (bool, error)
	Render(qr string) ([]byte, error)
}

// Notifier pushes an event to everyone waiting on an order.
type Notifier interface {
	Publish(orderID int64, eventName string, payload interface{}) (int, error)
}

func IsSupportedCurrency(currency string) bool {
	return khqr.IsSupportedCurrency(currency)
}

// DecimalPlaces is the precision an amount may carry: cents for USD, whole riel for KHR.
func DecimalPlaces(currency string) int32 {
	if currency == CurrencyKHR {
		return 0
	}
	return 2
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ToDataModel(p *Payment) *paymentDatamodel.Payment {
	return &paymentDatamodel.Payment{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Currency:       p.Currency,
		Amount:         p.Amount,
		QRString:       p.QRString,
		TransactionRef: p.TransactionRef,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
	}
}

func FromDataModel(p *paymentDatamodel.Payment) *Payment {
	return &Payment{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Currency:       p.Currency,
		Amount:         p.Amount,
		QRString:       p.QRString,
		TransactionRef: p.TransactionRef,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
	}
}
