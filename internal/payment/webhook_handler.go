package payment

import (
	"encoding/json"
	"io"
	"net/http"

	errors "github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/transport"
)

// WebhookHandler receives payment confirmations from the bank and from the storefront.
type WebhookHandler struct {
	*transport.BaseHandler
	reconciler ReconcilerAPI
}

func NewWebhookHandler(base *transport.BaseHandler, reconciler ReconcilerAPI) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: base,
		reconciler:  reconciler,
	}
}

// HandleCallback handles POST /bakong/callback. The bank must send the QR, the
// amount and its transaction reference.
func (h *WebhookHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("invalid payment callback request", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	h.Logger.Info("received payment callback",
		"order_id", req.OrderID,
		"transaction_ref", req.TransactionRef,
		"currency", req.Currency,
		"has_qr", req.QRString != "")

	h.reconcile(w, r, req, CallbackPolicy, "Payment recorded")
}

// HandleScan handles POST /bakong/scan. Only orderId is required.
func (h *WebhookHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.Logger.Error("invalid scan request", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	h.Logger.Info("received khqr scan", "order_id", req.OrderID, "transaction_ref", req.TransactionRef)

	h.reconcile(w, r, req, ScanPolicy, "Scan processed")
}

// HandleOrderPayment handles POST /orders/{id}/bakong, a storefront confirmation
// for a known order. It is as lenient as a scan.
func (h *WebhookHandler) HandleOrderPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.OrderIDParam(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var req ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	req.OrderID = orderID

	h.reconcile(w, r, req, ScanPolicy, "Payment recorded")
}

func (h *WebhookHandler) reconcile(w http.ResponseWriter, r *http.Request, req ConfirmationRequest, policy Policy, message string) {
	res, err := h.reconciler.Reconcile(r.Context(), req.ToReconcileRequest(), policy)
	if err != nil {
		h.Logger.Warn("payment confirmation rejected",
			"policy", policy.Name,
			"order_id", req.OrderID,
			"transaction_ref", req.TransactionRef,
			"error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("payment confirmation processed",
		"policy", policy.Name,
		"order_id", res.OrderID,
		"payment_id", res.PaymentID,
		"duplicate", res.Duplicate,
		"order_status", res.OrderStatus)

	h.WriteSuccess(w, http.StatusOK, "", NewConfirmationResponse(res, message))
}
