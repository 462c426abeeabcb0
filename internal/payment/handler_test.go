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

type mockService struct {
	generateFunc func(ctx context.Context, req payment.GenerateQRRequest) (*payment.GeneratedQR, error)
	statusFunc   func(ctx context.Context, orderID, userID int64) (*payment.StatusSummary, error)
	lastRequest  payment.GenerateQRRequest
}

func (m *mockService) GenerateQR(ctx context.Context, req payment.GenerateQRRequest) (*payment.GeneratedQR, error) {
	m.lastRequest = req
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return &payment.GeneratedQR{QRString: "qr", Image: []byte("png"), Amount: req.Amount, Currency: req.Currency, OrderID: req.OrderID}, nil
}

func (m *mockService) PaymentStatus(ctx context.Context, orderID, userID int64) (*payment.StatusSummary, error) {
	if m.statusFunc != nil {
		return m.statusFunc(ctx, orderID, userID)
	}
	return &payment.StatusSummary{OrderID: orderID, Payments: []*payment.Payment{}}, nil
}

type envelope struct {
	Status struct {
		Code      int    `json:"code"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) envelope {
	var env envelope
	Expect(json.Unmarshal(rec.Body.Bytes(), &env)).To(Succeed())
	return env
}

var _ = Describe("Handler", func() {
	var (
		svc    *mockService
		router chi.Router
	)

	BeforeEach(func() {
		svc = &mockService{}
		handler := payment.NewHandler(transport.NewBaseHandler(testLogger()), svc)
		router = chi.NewRouter()
		router.Get("/bakong/generate-qr", handler.GenerateQRImage)
		router.Post("/bakong/create", handler.CreateQR)
		router.Get("/bakong/ping", handler.Ping)
		router.Post("/orders/{id}/khqr", handler.OrderQR)
		router.Get("/orders/{id}/khqr/status", handler.OrderStatus)
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("GenerateQRImage", func() {
		It("should return a PNG", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/bakong/generate-qr?amount=1500&currency=khr", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("image/png"))
			Expect(rec.Header().Get("Cache-Control")).To(Equal("no-cache"))
			Expect(rec.Body.String()).To(Equal("png"))
			Expect(svc.lastRequest.Currency).To(Equal("KHR"))
			Expect(svc.lastRequest.Amount.Equal(dec("1500"))).To(BeTrue())
		})

		It("should reject a non numeric amount", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/bakong/generate-qr?amount=abc", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Status.Code).To(Equal(transport.StatusCodeFailure))
		})

		It("should reject a bad order id", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/bakong/generate-qr?amount=1&orderId=-3", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeEnvelope(rec).Status.ErrorCode).To(Equal(string(internal.ErrCodeValidationFailed)))
		})
	})

	Describe("CreateQR", func() {
		It("should return the generated QR in the envelope and skip duplicate placeholders", func() {
			body := bytes.NewBufferString(`{"amount": 12.5, "currency": "usd", "orderId": 3}`)
			rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", body))
			Expect(rec.Code).To(Equal(http.StatusOK))

			env := decodeEnvelope(rec)
			Expect(env.Status.Code).To(Equal(transport.StatusCodeSuccess))
			var data map[string]interface{}
			Expect(json.Unmarshal(env.Data, &data)).To(Succeed())
			Expect(data["qrString"]).To(Equal("qr"))
			Expect(data).ToNot(HaveKey("Image"))

			Expect(svc.lastRequest.SkipDuplicatePending).To(BeTrue())
			Expect(svc.lastRequest.Currency).To(Equal("USD"))
			Expect(*svc.lastRequest.OrderID).To(Equal(int64(3)))
		})

		It("should reject a missing amount", func() {
			rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", bytes.NewBufferString(`{"currency":"USD"}`)))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject amounts finer than the currency allows", func() {
			for _, body := range []string{
				`{"amount":6.005,"currency":"USD"}`,
				`{"amount":100.5,"currency":"KHR"}`,
			} {
				rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", bytes.NewBufferString(body)))
				Expect(rec.Code).To(Equal(http.StatusBadRequest), body)
				Expect(decodeEnvelope(rec).Status.ErrorCode).To(Equal(string(internal.ErrCodeValidationFailed)))
			}
			Expect(svc.lastRequest.Currency).To(BeEmpty())

			rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", bytes.NewBufferString(`{"amount":16000,"currency":"KHR"}`)))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should reject malformed JSON", func() {
			rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", bytes.NewBufferString(`{`)))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should pass service errors through with their status", func() {
			svc.generateFunc = func(ctx context.Context, req payment.GenerateQRRequest) (*payment.GeneratedQR, error) {
				return nil, internal.ErrOrderNotFound
			}
			rec := serve(httptest.NewRequest(http.MethodPost, "/bakong/create", bytes.NewBufferString(`{"amount":1,"orderId":9}`)))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decodeEnvelope(rec).Status.ErrorCode).To(Equal(string(internal.ErrCodeOrderNotFound)))
		})
	})

	Describe("OrderQR", func() {
		It("should issue a USD QR for the order in the path", func() {
			req := httptest.NewRequest(http.MethodPost, "/orders/5/khqr", bytes.NewBufferString(`{"amount": 4}`))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), 11))
			rec := serve(req)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(*svc.lastRequest.OrderID).To(Equal(int64(5)))
			Expect(svc.lastRequest.Currency).To(Equal("USD"))
			Expect(svc.lastRequest.UserID).To(Equal(int64(11)))
		})

		It("should reject a non numeric order id", func() {
			rec := serve(httptest.NewRequest(http.MethodPost, "/orders/abc/khqr", bytes.NewBufferString(`{"amount": 4}`)))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map forbidden orders to 403", func() {
			svc.generateFunc = func(ctx context.Context, req payment.GenerateQRRequest) (*payment.GeneratedQR, error) {
				return nil, internal.ErrForbiddenOrder
			}
			rec := serve(httptest.NewRequest(http.MethodPost, "/orders/5/khqr", bytes.NewBufferString(`{"amount": 4}`)))
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("OrderStatus", func() {
		It("should return the summary", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/orders/5/khqr/status", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			var data payment.StatusSummary
			Expect(json.Unmarshal(decodeEnvelope(rec).Data, &data)).To(Succeed())
			Expect(data.OrderID).To(Equal(int64(5)))
			Expect(data.Payments).ToNot(BeNil())
		})

		It("should hide unexpected errors behind a 500", func() {
			svc.statusFunc = func(ctx context.Context, orderID, userID int64) (*payment.StatusSummary, error) {
				return nil, errDatabase
			}
			rec := serve(httptest.NewRequest(http.MethodGet, "/orders/5/khqr/status", nil))
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).ToNot(ContainSubstring("database error"))
		})
	})

	It("should answer ping", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/bakong/ping", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("/api/bakong/ping"))
	})
})
