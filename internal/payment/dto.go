package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/core/common/validation"
)

// CreateQRRequest is the body of POST /bakong/create.
type CreateQRRequest struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency"`
	OrderID  *int64           `json:"orderId"`
}

func (r *CreateQRRequest) Validate() error {
	if r.Currency == "" {
		r.Currency = CurrencyUSD
	}
	r.Currency = strings.ToUpper(r.Currency)

	validator := validation.NewValidator()
	validator.Field("amount", r.Amount).Required().PositiveDecimal(errors.ErrCodeInvalidAmount)
	validator.Field("currency", r.Currency).OneOf(errors.ErrCodeInvalidCurrency, CurrencyUSD, CurrencyKHR)
	validator.Field("amount", r.Amount).MaxDecimalPlaces(DecimalPlaces(r.Currency), errors.ErrCodeInvalidAmount)
	if r.OrderID != nil {
		validator.Field("orderId", r.OrderID).MinInt(1, errors.ErrCodeInvalidOrderID)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// OrderQRRequest is the body of POST /orders/{id}/khqr. The currency is always USD.
type OrderQRRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (r *OrderQRRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("amount", r.Amount).Required().PositiveDecimal(errors.ErrCodeInvalidAmount).
		MaxDecimalPlaces(DecimalPlaces(CurrencyUSD), errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Validate applies the same rules to a service level request.
func (r GenerateQRRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("amount", r.Amount).PositiveDecimal(errors.ErrCodeInvalidAmount).
		MaxDecimalPlaces(DecimalPlaces(r.Currency), errors.ErrCodeInvalidAmount)
	validator.Field("currency", r.Currency).OneOf(errors.ErrCodeInvalidCurrency, CurrencyUSD, CurrencyKHR)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// ConfirmationRequest is the body shared by the callback, scan and order payment endpoints.
type ConfirmationRequest struct {
	OrderID        int64            `json:"orderId"`
	QRString       string           `json:"qrString"`
	Amount         *decimal.Decimal `json:"amount"`
	Currency       string           `json:"currency"`
	TransactionRef string           `json:"transactionRef"`
}

func (r *ConfirmationRequest) ToReconcileRequest() ReconcileRequest {
	return ReconcileRequest{
		OrderID:        r.OrderID,
		QRString:       r.QRString,
		Amount:         r.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(r.Currency)),
		TransactionRef: r.TransactionRef,
	}
}

// ConfirmationResponse wraps a reconcile result for the wire.
type ConfirmationResponse struct {
	Message string `json:"message"`
	*ReconcileResult
}

func NewConfirmationResponse(res *ReconcileResult, fallback string) ConfirmationResponse {
	msg := fallback
	switch {
	case res.Duplicate:
		msg = "payment already recorded"
	case res.AlreadySettled:
		msg = "Order already completed"
	}
	return ConfirmationResponse{Message: msg, ReconcileResult: res}
}
