package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/core/events"
	"github.com/pickandplay/guitar-api/internal/order"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

const EventNamePayment = "payment"

// Policy decides which inputs reconcile insists on before touching storage.
type Policy struct {
	Name                  string
	RequireTransactionRef bool
	RequireQRString       bool
	RequireAmount         bool
}

var (
	// CallbackPolicy is for bank confirmations: everything must be supplied.
	CallbackPolicy = Policy{Name: "callback", RequireTransactionRef: true, RequireQRString: true, RequireAmount: true}
	// ScanPolicy accepts a bare order id; the amount defaults to the order total
	// and a transaction reference is synthesized.
	ScanPolicy = Policy{Name: "scan"}
)

type ReconcileRequest struct {
	OrderID        int64
	QRString       string
	Amount         *decimal.Decimal
	Currency       string
	TransactionRef string
}

type ReconcileResult struct {
	OrderID        int64           `json:"orderId"`
	PaymentID      int64           `json:"paymentId,omitempty"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	Verified       bool            `json:"verified"`
	Duplicate      bool            `json:"duplicate"`
	AlreadySettled bool            `json:"alreadySettled"`
	Collected      decimal.Decimal `json:"collected"`
	Total          decimal.Decimal `json:"total"`
	OrderStatus    string          `json:"orderStatus"`
	PaymentStatus  string          `json:"paymentStatus"`
}

// PaymentEvent is what SSE subscribers receive for a recorded payment.
type PaymentEvent struct {
	Status        string          `json:"status"`
	PaymentID     int64           `json:"paymentId"`
	OrderID       int64           `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Collected     decimal.Decimal `json:"collected"`
	Total         decimal.Decimal `json:"total"`
	OrderStatus   string          `json:"orderStatus"`
	PaymentStatus string          `json:"paymentStatus"`
}

// Reconciler turns payment confirmations into ledger entries and order status.
// It is the only writer of order status.
type Reconciler struct {
	orders   order.Repository
	ledger   *Ledger
	qr       QRCodeProvider
	notifier Notifier
	bus      *events.EventBus
	locks    *orderLocks
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(orders order.Repository, ledger *Ledger, qr QRCodeProvider, notifier Notifier, bus *events.EventBus, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orders:   orders,
		ledger:   ledger,
		qr:       qr,
		notifier: notifier,
		bus:      bus,
		locks:    newOrderLocks(),
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile records a confirmed payment for req.OrderID under policy and
// recomputes the order. Input checks run before anything is read or written.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest, policy Policy) (*ReconcileResult, error) {
	req.TransactionRef = strings.TrimSpace(req.TransactionRef)
	req.QRString = strings.TrimSpace(req.QRString)
	if req.Currency == "" {
		req.Currency = CurrencyUSD
	}
	if err := checkPolicy(req, policy); err != nil {
		return nil, err
	}

	log := logger.FromOr(ctx, r.logger).With("order_id", req.OrderID, "policy", policy.Name)

	unlock := r.locks.lock(req.OrderID)
	defer unlock()

	o, err := r.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if o.IsSettled() {
		return r.settledResult(ctx, o, req.TransactionRef, log)
	}

	if req.TransactionRef != "" {
		existing, err := r.ledger.FindByTransactionRef(ctx, req.TransactionRef)
		switch {
		case err == nil:
			return r.duplicateResult(ctx, o, existing, log)
		case !errors.Is(err, ErrPaymentNotFound):
			return nil, err
		}
	}

	verified := false
	if req.QRString != "" {
		ok, err := r.qr.Verify(req.QRString)
		if err != nil || !ok {
			log.Info("qr verification failed", "error", err)
			if err != nil {
				return nil, internal.ErrVerificationFailed.WithCause(err)
			}
			return nil, internal.ErrVerificationFailed
		}
		verified = true
	}

	amount := o.TotalAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	ref := req.TransactionRef
	if ref == "" {
		ref = uuid.NewString()
		log.Info("synthesized transaction reference", "transaction_ref", ref)
	}

	p, err := r.ledger.RecordSuccess(ctx, o.ID, amount, req.Currency, req.QRString, ref)
	if errors.Is(err, ErrDuplicateTransaction) {
		return r.duplicateResult(ctx, o, p, log)
	}
	if err != nil {
		return nil, err
	}

	collected, err := r.recomputeLocked(ctx, o)
	if err != nil {
		// The payment is committed; the sweeper will bring the order in line.
		log.Error("order status recomputation failed", "payment_id", p.ID, "error", err)
	}

	r.notify(ctx, o, p, collected, policy, log)

	return resultFor(o, collected, func(res *ReconcileResult) {
		res.PaymentID = p.ID
		res.TransactionRef = ref
		res.Verified = verified
	}), nil
}

// Recompute re-applies the status rule to the order from the ledger total.
func (r *Reconciler) Recompute(ctx context.Context, orderID int64) (*order.Order, decimal.Decimal, error) {
	unlock := r.locks.lock(orderID)
	defer unlock()

	o, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	collected, err := r.recomputeLocked(ctx, o)
	return o, collected, err
}

// recomputeLocked sums the ledger while holding the order row lock, so the last
// of several concurrent writers always sees every committed payment.
func (r *Reconciler) recomputeLocked(ctx context.Context, o *order.Order) (decimal.Decimal, error) {
	var (
		collected decimal.Decimal
		before    string
		changed   bool
	)
	updated, err := r.orders.UpdateLocked(ctx, o.ID, func(txCtx context.Context, locked *order.Order) error {
		total, err := r.ledger.TotalCollected(txCtx, locked.ID)
		if err != nil {
			return err
		}
		collected = total
		before = locked.Status
		changed = locked.ApplyCollected(total, r.now())
		return nil
	})
	if err != nil {
		return collected, err
	}

	*o = *updated
	if changed {
		r.logger.Info("order status updated",
			"order_id", o.ID,
			"from", before,
			"to", o.Status,
			"payment_status", o.PaymentStatus,
			"collected", collected.String(),
			"total", o.TotalAmount.String())
	}
	return collected, nil
}

// settledResult answers a confirmation for a paid order. A known reference
// still gets its original payment back.
func (r *Reconciler) settledResult(ctx context.Context, o *order.Order, ref string, log *slog.Logger) (*ReconcileResult, error) {
	if ref != "" {
		existing, err := r.ledger.FindByTransactionRef(ctx, ref)
		switch {
		case err == nil:
			res, err := r.duplicateResult(ctx, o, existing, log)
			if err != nil {
				return nil, err
			}
			res.AlreadySettled = true
			return res, nil
		case !errors.Is(err, ErrPaymentNotFound):
			return nil, err
		}
	}

	collected, err := r.ledger.TotalCollected(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	log.Info("order already settled, nothing recorded")
	return resultFor(o, collected, func(res *ReconcileResult) { res.AlreadySettled = true }), nil
}

func (r *Reconciler) duplicateResult(ctx context.Context, o *order.Order, existing *Payment, log *slog.Logger) (*ReconcileResult, error) {
	collected, err := r.ledger.TotalCollected(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if existing.OrderID != o.ID {
		log.Warn("transaction reference belongs to another order", "payment_id", existing.ID, "payment_order_id", existing.OrderID)
	}
	log.Info("duplicate transaction ignored", "payment_id", existing.ID)
	return resultFor(o, collected, func(res *ReconcileResult) {
		res.PaymentID = existing.ID
		res.Duplicate = true
		if existing.TransactionRef != nil {
			res.TransactionRef = *existing.TransactionRef
		}
	}), nil
}

// notify never fails the caller.
func (r *Reconciler) notify(ctx context.Context, o *order.Order, p *Payment, collected decimal.Decimal, policy Policy, log *slog.Logger) {
	if r.notifier != nil {
		evt := PaymentEvent{
			Status:        StatusSuccess,
			PaymentID:     p.ID,
			OrderID:       o.ID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Collected:     collected,
			Total:         o.TotalAmount,
			OrderStatus:   o.Status,
			PaymentStatus: o.PaymentStatus,
		}
		if delivered, err := r.notifier.Publish(o.ID, EventNamePayment, evt); err != nil {
			log.Warn("failed to publish payment event", "payment_id", p.ID, "error", err)
		} else {
			log.Debug("payment event published", "payment_id", p.ID, "delivered", delivered)
		}
	}

	if r.bus != nil {
		ref := ""
		if p.TransactionRef != nil {
			ref = *p.TransactionRef
		}
		evt := events.NewPaymentRecordedEvent(o.ID, p.ID, p.Amount, p.Currency, ref, policy.Name,
			collected, o.TotalAmount, o.Status, o.PaymentStatus)
		if err := r.bus.Publish(ctx, evt); err != nil {
			log.Warn("failed to publish payment recorded event", "payment_id", p.ID, "error", err)
		}
	}
}

func checkPolicy(req ReconcileRequest, policy Policy) error {
	if req.OrderID <= 0 {
		return internal.NewValidationFieldError("orderId", "orderId is required", internal.ErrCodeInvalidOrderID)
	}
	if policy.RequireQRString && req.QRString == "" {
		return internal.ErrMissingQRString
	}
	if policy.RequireAmount && req.Amount == nil {
		return internal.NewValidationFieldError("amount", "amount is required", internal.ErrCodeInvalidAmount)
	}
	if policy.RequireTransactionRef && req.TransactionRef == "" {
		return internal.ErrMissingTransactionRef
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return internal.NewValidationFieldError("amount", "amount cannot be negative", internal.ErrCodeInvalidAmount)
	}
	if !IsSupportedCurrency(req.Currency) {
		return internal.ErrInvalidCurrency
	}
	if req.Amount != nil {
		return checkScale(*req.Amount, req.Currency)
	}
	return nil
}

// checkScale rejects amounts the ledger column or the QR cannot hold exactly.
func checkScale(amount decimal.Decimal, currency string) error {
	places := DecimalPlaces(currency)
	if !amount.Equal(amount.Truncate(places)) {
		return internal.NewValidationFieldError("amount",
			fmt.Sprintf("amount allows at most %d decimal places for %s", places, currency),
			internal.ErrCodeInvalidAmount)
	}
	return nil
}
