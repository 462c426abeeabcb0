package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/payment"
	"github.com/pickandplay/guitar-api/internal/transport"
)

type mockReconciler struct {
	result   *payment.ReconcileResult
	err      error
	requests []payment.ReconcileRequest
	policies []payment.Policy
}

func (m *mockReconciler) Reconcile(ctx context.Context, req payment.ReconcileRequest, policy payment.Policy) (*payment.ReconcileResult, error) {
	m.requests = append(m.requests, req)
	m.policies = append(m.policies, policy)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &payment.ReconcileResult{OrderID: req.OrderID, PaymentID: 1, Verified: true, OrderStatus: "partial", PaymentStatus: "partial"}, nil
}

var _ = Describe("WebhookHandler", func() {
	var (
		reconciler *mockReconciler
		router     chi.Router
	)

	BeforeEach(func() {
		reconciler = &mockReconciler{}
		handler := payment.NewWebhookHandler(transport.NewBaseHandler(testLogger()), reconciler)
		router = chi.NewRouter()
		router.Post("/bakong/callback", handler.HandleCallback)
		router.Post("/bakong/scan", handler.HandleScan)
		router.Post("/orders/{id}/bakong", handler.HandleOrderPayment)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))
		return rec
	}

	message := func(rec *httptest.ResponseRecorder) string {
		var data map[string]interface{}
		Expect(json.Unmarshal(decodeEnvelope(rec).Data, &data)).To(Succeed())
		return data["message"].(string)
	}

	Describe("HandleCallback", func() {
		It("should reconcile under the callback policy", func() {
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"qr","amount":6,"currency":"usd","transactionRef":"A"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(message(rec)).To(Equal("Payment recorded"))

			Expect(reconciler.policies).To(HaveLen(1))
			Expect(reconciler.policies[0].Name).To(Equal(payment.CallbackPolicy.Name))
			req := reconciler.requests[0]
			Expect(req.OrderID).To(Equal(int64(1)))
			Expect(req.Currency).To(Equal("USD"))
			Expect(req.Amount.Equal(dec("6"))).To(BeTrue())
		})

		It("should report a replay as already recorded", func() {
			reconciler.result = &payment.ReconcileResult{OrderID: 1, PaymentID: 3, Duplicate: true}
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"qr","amount":6,"transactionRef":"A"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(message(rec)).To(Equal("payment already recorded"))
		})

		It("should report a settled order", func() {
			reconciler.result = &payment.ReconcileResult{OrderID: 1, AlreadySettled: true}
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"qr","amount":6,"transactionRef":"B"}`)
			Expect(message(rec)).To(Equal("Order already completed"))
		})

		It("should report a replay on a settled order as already recorded", func() {
			reconciler.result = &payment.ReconcileResult{OrderID: 1, PaymentID: 3, Duplicate: true, AlreadySettled: true}
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"qr","amount":10,"transactionRef":"A"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(message(rec)).To(Equal("payment already recorded"))
		})

		It("should map a missing reference to 400", func() {
			reconciler.err = internal.ErrMissingTransactionRef
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"qr","amount":6}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			env := decodeEnvelope(rec)
			Expect(env.Status.ErrorCode).To(Equal(string(internal.ErrCodeMissingTransactionRef)))
			Expect(env.Status.Message).To(Equal("missing_transactionRef"))
		})

		It("should map failed verification to 400", func() {
			reconciler.err = internal.ErrVerificationFailed
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"x","amount":6,"transactionRef":"A"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Status.Message).To(Equal("verification_failed"))
		})

		It("should map store failures to 500", func() {
			reconciler.err = internal.NewPersistenceError("failed to record payment", errDatabase)
			rec := post("/bakong/callback", `{"orderId":1,"qrString":"x","amount":6,"transactionRef":"A"}`)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})

		It("should reject malformed JSON without reconciling", func() {
			rec := post("/bakong/callback", `not json`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(reconciler.requests).To(BeEmpty())
		})
	})

	Describe("HandleScan", func() {
		It("should reconcile under the scan policy", func() {
			rec := post("/bakong/scan", `{"orderId":4}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(message(rec)).To(Equal("Scan processed"))
			Expect(reconciler.policies[0].Name).To(Equal(payment.ScanPolicy.Name))
			Expect(reconciler.requests[0].Amount).To(BeNil())
		})

		It("should pass an empty body to the reconciler, which rejects the missing order", func() {
			reconciler.err = internal.NewValidationFieldError("orderId", "orderId is required", internal.ErrCodeInvalidOrderID)
			rec := post("/bakong/scan", ``)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(reconciler.requests).To(HaveLen(1))
		})

		It("should return 404 for an unknown order", func() {
			reconciler.err = internal.ErrOrderNotFound
			rec := post("/bakong/scan", `{"orderId":404}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("HandleOrderPayment", func() {
		It("should take the order id from the path", func() {
			rec := post("/orders/9/bakong", `{"orderId":1,"amount":2}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reconciler.requests[0].OrderID).To(Equal(int64(9)))
			Expect(reconciler.policies[0].Name).To(Equal(payment.ScanPolicy.Name))
		})

		It("should reject a bad path id", func() {
			rec := post("/orders/zero/bakong", `{}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(reconciler.requests).To(BeEmpty())
		})
	})
})
