package payment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/transport"
)

// Handler serves QR issuance and payment status.
type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
}

func NewHandler(base *transport.BaseHandler, paymentService ServiceAPI) *Handler {
	return &Handler{
		BaseHandler:    base,
		PaymentService: paymentService,
	}
}

// GenerateQRImage handles GET /bakong/generate-qr and returns the QR as PNG.
func (h *Handler) GenerateQRImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := decimal.NewFromString(strings.TrimSpace(q.Get("amount")))
	if err != nil {
		h.HandleError(w, errors.NewValidationFieldError("amount", "amount must be a number", errors.ErrCodeInvalidAmount))
		return
	}

	req := GenerateQRRequest{
		Amount:   amount,
		Currency: strings.ToUpper(q.Get("currency")),
		UserID:   errors.UserIDFromContext(r.Context()),
	}
	if raw := q.Get("orderId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.HandleError(w, errors.NewValidationFieldError("orderId", "orderId must be a positive integer", errors.ErrCodeInvalidOrderID))
			return
		}
		req.OrderID = &id
	}

	qr, err := h.PaymentService.GenerateQR(r.Context(), req)
	if err != nil {
		h.Logger.Error("GenerateQRImage: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(qr.Image); err != nil {
		h.Logger.Error("GenerateQRImage: failed to write image", "error", err)
	}
}

// CreateQR handles POST /bakong/create.
func (h *Handler) CreateQR(w http.ResponseWriter, r *http.Request) {
	var req CreateQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateQR: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	qr, err := h.PaymentService.GenerateQR(r.Context(), GenerateQRRequest{
		Amount:               *req.Amount,
		Currency:             req.Currency,
		OrderID:              req.OrderID,
		UserID:               errors.UserIDFromContext(r.Context()),
		SkipDuplicatePending: true,
	})
	if err != nil {
		h.Logger.Error("CreateQR: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, "", qr)
}

// OrderQR handles POST /orders/{id}/khqr.
func (h *Handler) OrderQR(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.OrderIDParam(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var req OrderQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	qr, err := h.PaymentService.GenerateQR(r.Context(), GenerateQRRequest{
		Amount:   *req.Amount,
		Currency: CurrencyUSD,
		OrderID:  &orderID,
		UserID:   errors.UserIDFromContext(r.Context()),
	})
	if err != nil {
		h.Logger.Error("OrderQR: service error", "error", err, "order_id", orderID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, "", qr)
}

// OrderStatus handles GET /orders/{id}/khqr/status.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.OrderIDParam(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	summary, err := h.PaymentService.PaymentStatus(r.Context(), orderID, errors.UserIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, "", summary)
}

// Ping handles GET /bakong/ping.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.WriteSuccess(w, http.StatusOK, "", map[string]string{"status": "ok", "endpoint": "/api/bakong/ping"})
}
