package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/khqr"
	"github.com/pickandplay/guitar-api/internal/order"
)

// ServiceAPI is what the HTTP handlers need from payments.
type ServiceAPI interface {
	GenerateQR(ctx context.Context, req GenerateQRRequest) (*GeneratedQR, error)
	PaymentStatus(ctx context.Context, orderID, userID int64) (*StatusSummary, error)
}

// ReconcilerAPI is implemented by *Reconciler.
type ReconcilerAPI interface {
	Reconcile(ctx context.Context, req ReconcileRequest, policy Policy) (*ReconcileResult, error)
}

type GenerateQRRequest struct {
	Amount   decimal.Decimal
	Currency string
	OrderID  *int64
	// UserID is the caller; zero for guests.
	UserID int64
	// SkipDuplicatePending leaves an existing pending placeholder as the only one.
	SkipDuplicatePending bool
}

type GeneratedQR struct {
	QRString         string          `json:"qrString"`
	MD5              string          `json:"md5"`
	Image            []byte          `json:"-"`
	ImageBase64      string          `json:"imageBase64"`
	OrderID          *int64          `json:"orderId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PendingPaymentID int64           `json:"pendingPaymentId,omitempty"`
}

type StatusSummary struct {
	OrderID       int64           `json:"orderId"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	Collected     decimal.Decimal `json:"collected"`
	Total         decimal.Decimal `json:"total"`
	Payments      []*Payment      `json:"payments"`
}

// Service issues QR codes and reports payment progress. It never changes order status.
type Service struct {
	orders order.Repository
	ledger *Ledger
	qr     QRCodeProvider
	logger *slog.Logger
}

func NewService(orders order.Repository, ledger *Ledger, qr QRCodeProvider, logger *slog.Logger) *Service {
	return &Service{orders: orders, ledger: ledger, qr: qr, logger: logger}
}

func (s *Service) GenerateQR(ctx context.Context, req GenerateQRRequest) (*GeneratedQR, error) {
	if req.Currency == "" {
		req.Currency = CurrencyUSD
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var o *order.Order
	billNumber := ""
	if req.OrderID != nil {
		var err error
		o, err = s.loadAuthorized(ctx, *req.OrderID, req.UserID)
		if err != nil {
			return nil, err
		}
		billNumber = fmt.Sprintf("ORDER-%d", o.ID)
	}

	qrString, err := s.qr.GenerateForOrder(req.Amount, req.Currency, billNumber)
	if err != nil {
		return nil, mapQRError(err)
	}
	image, err := s.qr.Render(qrString)
	if err != nil {
		return nil, mapQRError(err)
	}

	out := &GeneratedQR{
		QRString:    qrString,
		MD5:         khqr.MD5(qrString),
		Image:       image,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}

	s.logger.Info("khqr generated", "amount", req.Amount.String(), "currency", req.Currency, "md5", out.MD5)

	if o != nil {
		out.PendingPaymentID = s.recordPlaceholder(ctx, o.ID, req, qrString)
	}

	return out, nil
}

// recordPlaceholder makes the issued QR visible in status calls. Failures are
// logged only; the client still gets its QR.
func (s *Service) recordPlaceholder(ctx context.Context, orderID int64, req GenerateQRRequest, qrString string) int64 {
	if req.SkipDuplicatePending {
		pending, err := s.ledger.HasPending(ctx, orderID)
		if err != nil {
			s.logger.Warn("failed to check pending payments", "order_id", orderID, "error", err)
			return 0
		}
		if pending {
			s.logger.Info("order already has a pending payment, skipping placeholder", "order_id", orderID)
			return 0
		}
	}

	p, err := s.ledger.RecordPending(ctx, orderID, req.Amount, req.Currency, qrString)
	if err != nil {
		s.logger.Warn("failed to persist pending payment", "order_id", orderID, "error", err)
		return 0
	}
	return p.ID
}

func (s *Service) PaymentStatus(ctx context.Context, orderID, userID int64) (*StatusSummary, error) {
	o, err := s.loadAuthorized(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	payments, err := s.ledger.ListPayments(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []*Payment{}
	}

	return &StatusSummary{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Collected:     sumSuccessful(payments),
		Total:         o.TotalAmount,
		Payments:      payments,
	}, nil
}

// loadAuthorized rejects callers acting on someone else's order. Guests
// (userID 0) only reach guest orders.
func (s *Service) loadAuthorized(ctx context.Context, orderID, userID int64) (*order.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(userID) {
		s.logger.Warn("order access denied", "order_id", orderID, "user_id", userID)
		return nil, internal.ErrForbiddenOrder
	}
	return o, nil
}

func mapQRError(err error) error {
	switch {
	case errors.Is(err, khqr.ErrInvalidCurrency):
		return internal.ErrInvalidCurrency
	case errors.Is(err, khqr.ErrNegativeAmount):
		return internal.NewValidationFieldError("amount", "amount cannot be negative", internal.ErrCodeInvalidAmount)
	case errors.Is(err, khqr.ErrFieldTooLong):
		return internal.NewValidationError(err.Error(), internal.ErrCodeQRGenerationFailed)
	default:
		return &internal.AppError{
			Type:       internal.ErrorTypeInternal,
			Code:       internal.ErrCodeQRGenerationFailed,
			Message:    "failed to generate KHQR",
			StatusCode: 500,
			Cause:      err,
		}
	}
}
