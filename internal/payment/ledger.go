package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal"
)

// Ledger is the only writer of payment rows.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// RecordPending stores a placeholder for an issued QR. It carries no transaction
// reference, so no uniqueness check applies.
func (l *Ledger) RecordPending(ctx context.Context, orderID int64, amount decimal.Decimal, currency, qrString string) (*Payment, error) {
	if err := validateEntry(amount, currency); err != nil {
		return nil, err
	}

	p := &Payment{
		OrderID:   orderID,
		Currency:  currency,
		Amount:    amount,
		QRString:  optionalString(qrString),
		Status:    StatusPending,
		CreatedAt: l.now(),
	}
	if err := l.store.Insert(ctx, p); err != nil {
		return nil, internal.NewPersistenceError("failed to record pending payment", err)
	}

	l.logger.Info("pending payment recorded", "order_id", orderID, "payment_id", p.ID, "amount", amount.String(), "currency", currency)
	return p, nil
}

// RecordSuccess stores a confirmed payment keyed by transactionRef. When the
// reference is already present, including when a concurrent insert won the race,
// it returns the earlier payment together with ErrDuplicateTransaction.
func (l *Ledger) RecordSuccess(ctx context.Context, orderID int64, amount decimal.Decimal, currency, qrString, transactionRef string) (*Payment, error) {
	if strings.TrimSpace(transactionRef) == "" {
		return nil, internal.ErrMissingTransactionRef
	}
	if err := validateEntry(amount, currency); err != nil {
		return nil, err
	}

	existing, err := l.FindByTransactionRef(ctx, transactionRef)
	if err == nil {
		return existing, ErrDuplicateTransaction
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	p := &Payment{
		OrderID:        orderID,
		Currency:       currency,
		Amount:         amount,
		QRString:       optionalString(qrString),
		TransactionRef: &transactionRef,
		Status:         StatusSuccess,
		CreatedAt:      l.now(),
	}

	if err := l.store.Insert(ctx, p); err != nil {
		if !errors.Is(err, ErrDuplicateTransaction) {
			return nil, internal.NewPersistenceError("failed to record payment", err)
		}
		winner, lookupErr := l.FindByTransactionRef(ctx, transactionRef)
		if lookupErr != nil {
			return nil, internal.NewPersistenceError("failed to load duplicate payment", lookupErr)
		}
		l.logger.Info("concurrent duplicate transaction resolved", "transaction_ref", transactionRef, "payment_id", winner.ID)
		return winner, ErrDuplicateTransaction
	}

	l.logger.Info("payment recorded",
		"order_id", orderID,
		"payment_id", p.ID,
		"transaction_ref", transactionRef,
		"amount", amount.String(),
		"currency", currency)
	return p, nil
}

// FindByTransactionRef returns ErrPaymentNotFound when the reference is unknown.
func (l *Ledger) FindByTransactionRef(ctx context.Context, ref string) (*Payment, error) {
	p, err := l.store.FindByTransactionRef(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, internal.NewPersistenceError("failed to look up transaction", err)
	}
	return p, nil
}

// TotalCollected sums success payments for the order. Amounts are added as
// recorded, whatever their currency.
func (l *Ledger) TotalCollected(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	payments, err := l.ListPayments(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	return sumSuccessful(payments), nil
}

// ListPayments returns every payment of the order, oldest first.
func (l *Ledger) ListPayments(ctx context.Context, orderID int64) ([]*Payment, error) {
	payments, err := l.store.FindAllForOrder(ctx, orderID)
	if err != nil {
		return nil, internal.NewPersistenceError("failed to list payments", err)
	}
	return payments, nil
}

// HasPending reports whether a pending placeholder already exists for the order.
func (l *Ledger) HasPending(ctx context.Context, orderID int64) (bool, error) {
	payments, err := l.ListPayments(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func sumSuccessful(payments []*Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == StatusSuccess {
			total = total.Add(p.Amount)
		}
	}
	return total
}

func validateEntry(amount decimal.Decimal, currency string) error {
	if amount.IsNegative() {
		return internal.NewValidationFieldError("amount", "amount cannot be negative", internal.ErrCodeInvalidAmount)
	}
	if !IsSupportedCurrency(currency) {
		return internal.ErrInvalidCurrency.WithDetails(fmt.Sprintf("got %q", currency))
	}
	return nil
}
