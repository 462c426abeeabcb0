package notification_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pickandplay/guitar-api/internal/notification"
	"github.com/pickandplay/guitar-api/internal/transport"
)

var _ = Describe("StreamHandler", func() {
	var (
		hub     *notification.Hub
		handler *notification.StreamHandler
		server  *httptest.Server
	)

	BeforeEach(func() {
		hub = notification.NewHub(notification.Options{}, testLogger())
		handler = notification.NewStreamHandler(transport.NewBaseHandler(testLogger()), hub, 50*time.Millisecond)

		router := chi.NewRouter()
		router.Get("/bakong/orders/{id}/events", handler.Stream)
		router.Get("/bakong/orders/{id}/emitters", handler.Count)
		server = httptest.NewServer(router)
	})

	AfterEach(func() {
		server.Close()
	})

	It("should frame published events and deregister on disconnect", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/bakong/orders/5/events", nil)
		Expect(err).ToNot(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(line).To(Equal(": connected\n"))

		Eventually(func() int { return hub.Count(5) }).Should(Equal(1))

		_, err = hub.Publish(5, notification.EventPayment, map[string]interface{}{"status": "success", "paymentId": 3})
		Expect(err).ToNot(HaveOccurred())

		var frame []string
		for len(frame) < 2 {
			line, err := reader.ReadString('\n')
			Expect(err).ToNot(HaveOccurred())
			line = strings.TrimRight(line, "\n")
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			frame = append(frame, line)
		}
		Expect(frame[0]).To(Equal("event: payment"))
		Expect(strings.TrimPrefix(frame[1], "data: ")).To(MatchJSON(`{"status":"success","paymentId":3}`))

		cancel()
		Eventually(func() int { return hub.Count(5) }, time.Second).Should(Equal(0))
	})

	It("should report the emitter count", func() {
		_, _ = hub.Subscribe(9)
		_, _ = hub.Subscribe(9)

		resp, err := http.Get(server.URL + "/bakong/orders/9/emitters")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()

		var body struct {
			Status transport.EnvelopeStatus          `json:"status"`
			Data   notification.EmitterCountResponse `json:"data"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.Status.Code).To(Equal(0))
		Expect(body.Data).To(Equal(notification.EmitterCountResponse{OrderID: 9, Count: 2}))
	})

	It("should reject a non-numeric order id", func() {
		resp, err := http.Get(server.URL + "/bakong/orders/abc/events")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})
})
