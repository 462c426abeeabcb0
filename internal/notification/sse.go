package notification

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pickandplay/guitar-api/internal"
	"github.com/pickandplay/guitar-api/internal/transport"
)

const DefaultHeartbeatInterval = 25 * time.Second

// StreamHandler exposes the hub over Server-Sent Events.
type StreamHandler struct {
	*transport.BaseHandler
	hub       *Hub
	heartbeat time.Duration
}

func NewStreamHandler(base *transport.BaseHandler, hub *Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &StreamHandler{BaseHandler: base, hub: hub, heartbeat: heartbeat}
}

type EmitterCountResponse struct {
	OrderID int64 `json:"orderId"`
	Count   int   `json:"count"`
}

// Stream handles GET /bakong/orders/{id}/events. It holds the connection open until
// the client goes away, then deregisters the subscriber.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.OrderIDParam(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.HandleError(w, internal.NewInternalError("streaming unsupported", nil))
		return
	}

	sub, err := h.hub.Subscribe(orderID)
	if err != nil {
		h.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	h.Logger.Info("sse subscriber connected", "order_id", orderID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.Logger.Info("sse subscriber disconnected", "order_id", orderID)
			return
		case <-sub.Done():
			return
		case msg := <-sub.Events():
			if err := writeEvent(w, msg); err != nil {
				h.Logger.Warn("sse write failed", "order_id", orderID, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Count handles GET /bakong/orders/{id}/emitters.
func (h *StreamHandler) Count(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.OrderIDParam(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "", EmitterCountResponse{OrderID: orderID, Count: h.hub.Count(orderID)})
}

func writeEvent(w http.ResponseWriter, msg Message) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Name, msg.Data)
	return err
}
