// Package notification fans payment events out to clients waiting on an order.
package notification

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBufferSize  = 16
	DefaultSendTimeout = 250 * time.Millisecond

	EventPayment = "payment"
)

var ErrHubClosed = errors.New("notification hub is closed")

type Options struct {
	BufferSize  int
	SendTimeout time.Duration
}

// Message is one framed event as delivered to a subscriber.
type Message struct {
	Name string
	Data []byte
}

// Subscriber is a live channel for one order. Events is never closed by the hub;
// Done is closed once the subscriber is removed.
type Subscriber struct {
	orderID int64
	events  chan Message
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(orderID int64, buffer int) *Subscriber {
	return &Subscriber{
		orderID: orderID,
		events:  make(chan Message, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscriber) OrderID() int64 {
	return s.orderID
}

func (s *Subscriber) Events() <-chan Message {
	return s.events
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscriber dead. The hub drops it on the next publish or Unsubscribe.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscriber) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Hub is the per-order subscriber registry.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64][]*Subscriber
	closed      bool
	opts        Options
	logger      *slog.Logger
}

func NewHub(opts Options, logger *slog.Logger) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Hub{
		subscribers: make(map[int64][]*Subscriber),
		opts:        opts,
		logger:      logger,
	}
}

func (h *Hub) Subscribe(orderID int64) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := newSubscriber(orderID, h.opts.BufferSize)
	h.subscribers[orderID] = append(h.subscribers[orderID], sub)

	h.logger.Debug("subscriber registered", "order_id", orderID, "subscribers", len(h.subscribers[orderID]))
	return sub, nil
}

// Unsubscribe removes and closes sub. Calling it twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	h.remove(sub)
	h.mu.Unlock()
	sub.Close()
}

// remove must be called with mu held.
func (h *Hub) remove(sub *Subscriber) {
	subs := h.subscribers[sub.orderID]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, sub.orderID)
		return
	}
	h.subscribers[sub.orderID] = subs
}

// Count returns the number of registered subscribers for orderID.
func (h *Hub) Count(orderID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[orderID])
}

// Total returns the number of open streams across all orders.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}

// Publish delivers payload to every subscriber of orderID in registration order.
// A subscriber that is closed, or does not accept the message within SendTimeout,
// is unregistered. Delivery is not retried. It returns the number of deliveries.
func (h *Hub) Publish(orderID int64, eventName string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	subs := make([]*Subscriber, len(h.subscribers[orderID]))
	copy(subs, h.subscribers[orderID])
	h.mu.RUnlock()

	msg := Message{Name: eventName, Data: data}
	delivered := 0
	var dead []*Subscriber

	for _, sub := range subs {
		if h.send(sub, msg) {
			delivered++
			continue
		}
		dead = append(dead, sub)
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, sub := range dead {
			h.remove(sub)
		}
		h.mu.Unlock()
		for _, sub := range dead {
			sub.Close()
		}
		h.logger.Info("pruned dead subscribers", "order_id", orderID, "pruned", len(dead))
	}

	return delivered, nil
}

func (h *Hub) send(sub *Subscriber, msg Message) bool {
	if sub.closed() {
		return false
	}

	select {
	case sub.events <- msg:
		return true
	default:
	}

	timer := time.NewTimer(h.opts.SendTimeout)
	defer timer.Stop()

	select {
	case sub.events <- msg:
		return true
	case <-sub.done:
		return false
	case <-timer.C:
		h.logger.Warn("subscriber send timed out", "order_id", sub.orderID)
		return false
	}
}

// Close drops every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.subscribers
	h.subscribers = make(map[int64][]*Subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.Close()
		}
	}
}
